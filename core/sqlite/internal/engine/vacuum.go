package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// vacuumConn lets a vacuum run drive the engine.
type vacuumConn struct {
	*Engine
}

func (c vacuumConn) Prepare(sql string) (vacuum.Stmt, error) {
	s, err := c.Engine.Prepare(sql)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Vacuum rebuilds the main database with the given per-page reserve.
func (e *Engine) Vacuum(ctx context.Context, reserve int) (*vacuum.Result, error) {
	if e.closed {
		return nil, errClosed
	}
	if e.active > 0 {
		return nil, vacuum.ErrActiveStatements
	}
	if logging.GetOperationID(ctx) == "" {
		ctx = logging.WithOperationID(ctx, uuid.NewString())
	}
	return vacuum.Run(ctx, vacuumConn{e}, vacuum.Options{Reserve: reserve})
}

// execVacuum runs VACUUM on main, keeping its current reserve.
func (e *Engine) execVacuum(s *Stmt, st *parser.VacuumStmt) error {
	if st.Into != nil {
		return errs.NewUnsupported("VACUUM INTO", "compact in place and copy the file")
	}
	if st.Schema != "" && !strings.EqualFold(st.Schema, MainSchema) {
		if _, err := e.Database(st.Schema); err != nil {
			return err
		}
		return errs.NewUnsupported("VACUUM "+st.Schema, "only the main database can be rebuilt")
	}
	_, err := e.Vacuum(context.Background(), e.dbs[0].pager.Reserve())
	return err
}
