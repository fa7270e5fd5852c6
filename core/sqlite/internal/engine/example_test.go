package engine_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
)

// Example_basic creates a table, fills it and reads it back.
func Example_basic() {
	dir, err := os.MkdirTemp("", "engine-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := engine.Open(filepath.Join(dir, "example.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Execute(`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL, price REAL)`); err != nil {
		log.Fatal(err)
	}
	if _, err := db.Execute(`INSERT INTO products (name, price) VALUES ('Widget', 9.5), ('Gadget', 19.25)`); err != nil {
		log.Fatal(err)
	}

	rows, err := db.Query(`SELECT id, name, price FROM products ORDER BY id`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		var price float64
		if err := rows.Scan(&id, &name, &price); err != nil {
			log.Fatal(err)
		}
		fmt.Println(id, name, price)
	}
	// Output:
	// 1 Widget 9.5
	// 2 Gadget 19.25
}

// ExampleEngine_Vacuum rebuilds a populated database with a 32 byte reserve
// on every page.
func ExampleEngine_Vacuum() {
	dir, err := os.MkdirTemp("", "engine-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := engine.Open(filepath.Join(dir, "example.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Execute(`CREATE TABLE notes (body TEXT)`); err != nil {
		log.Fatal(err)
	}
	if _, err := db.Execute(`INSERT INTO notes VALUES ('first'), ('second')`); err != nil {
		log.Fatal(err)
	}

	res, err := db.Vacuum(context.Background(), 32)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.State, res.Reserve)
	// Output:
	// committed 32
}
