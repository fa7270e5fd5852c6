package functions



// Like matches s against a LIKE pattern: % is any run, _ any one character,
// ASCII letters compare case-insensitively. esc, when non-zero, quotes the
// next pattern character.
func Like(pattern, s string, esc rune) bool {
	return match([]rune(pattern), []rune(s), esc, false)
}

// Glob matches s against a GLOB pattern: * is any run, ? any one character,
// [...] a character class. Matching is case-sensitive.
func Glob(pattern, s string) bool {
	return match([]rune(pattern), []rune(s), 0, true)
}

func foldASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

func match(p, s []rune, esc rune, glob bool) bool {
	many, one := '%', '_'
	if glob {
		many, one = '*', '?'
	}
	for len(p) > 0 {
		c := p[0]
		switch {
		case c == many:
			for len(p) > 0 && (p[0] == many || p[0] == one) {
				if p[0] == one {
					if len(s) == 0 {
						return false
					}
					s = s[1:]
				}
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if match(p, s[i:], esc, glob) {
					return true
				}
			}
			return false
		case c == one:
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		case glob && c == '[':
			if len(s) == 0 {
				return false
			}
			n, ok := matchClass(p, s[0])
			if !ok {
				return false
			}
			p, s = p[n:], s[1:]
		default:
			if !glob && esc != 0 && c == esc {
				if len(p) < 2 {
					return false
				}
				p = p[1:]
				c = p[0]
			}
			if len(s) == 0 {
				return false
			}
			if glob && c != s[0] || !glob && foldASCII(c) != foldASCII(s[0]) {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

// matchClass matches r against the class starting at p[0] == '[' and
// returns the class length. A malformed class never matches.
func matchClass(p []rune, r rune) (int, bool) {
	i := 1
	invert := false
	if i < len(p) && p[i] == '^' {
		invert = true
		i++
	}
	found := false
	first := true
	for i < len(p) && (first || p[i] != ']') {
		lo := p[i]
		if i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']' {
			if r >= lo && r <= p[i+2] {
				found = true
			}
			i += 3
		} else {
			if r == lo {
				found = true
			}
			i++
		}
		first = false
	}
	if i >= len(p) {
		return 0, false
	}
	return i + 1, found != invert
}

