package planner

import (
	"fmt"
	"strings"

	"github.com/dbcore/novadb"
	"github.com/dbcore/novadb/internal/record"
	"github.com/dbcore/novadb/internal/sql/parser"
)

// BuildPlan builds a physical plan from an AST Statement.
// It may need access to catalog/schema via engine.Database.
func BuildPlan(stmt parser.Statement, db *novasql.Database) (Plan, error) {
	switch s := stmt.(type) {
	case *parser.CreateDatabaseStmt:
		return &CreateDatabasePlan{Name: s.Name}, nil
	case *parser.DropDatabaseStmt:
		return &DropDatabasePlan{Name: s.Name}, nil
	case *parser.UseDatabaseStmt:
		return &UseDatabasePlan{Name: s.Name}, nil
	case *parser.CreateTableStmt:
		return buildCreateTablePlan(s)
	case *parser.DropTableStmt:
		return &DropTablePlan{TableName: s.TableName}, nil
	case *parser.InsertStmt:
		return buildInsertPlan(s)
	case *parser.SelectStmt:
		return buildSelectPlan(s)
	default:
		return nil, fmt.Errorf("planner: unsupported statement type %T", stmt)
	}
}

func buildCreateTablePlan(s *parser.CreateTableStmt) (Plan, error) {
	var cols []record.Column
	for _, c := range s.Columns {
		colType, err := mapSQLType(c.Type)
		if err != nil {
			return nil, err
		}
		cols = append(cols, record.Column{
			Name:     c.Name,
			Type:     colType,
			Nullable: true, // default
		})
	}
	return &CreateTablePlan{
		TableName: s.TableName,
		Schema:    record.Schema{Cols: cols},
	}, nil
}

func buildInsertPlan(s *parser.InsertStmt) (Plan, error) {
	return &InsertPlan{
		TableName: s.TableName,
		Values:    s.Values,
	}, nil
}

func buildSelectPlan(s *parser.SelectStmt) (Plan, error) {
	plan := &SeqScanPlan{
		TableName: s.TableName,
	}
	if s.Where != nil {
		lit, ok := s.Where.Value.(*parser.LiteralExpr)
		if !ok {
			return nil, fmt.Errorf("planner: only literal values supported in WHERE")
		}
		plan.Where = &WhereEq{Column: s.Where.Column, Value: lit.Value}
	}
	return plan, nil
}

func mapSQLType(t string) (record.ColumnType, error) {
	switch strings.ToUpper(t) {
	case "INT", "INTEGER":
		return record.ColInt64, nil
	case "TEXT":
		return record.ColText, nil
	case "BOOL", "BOOLEAN":
		return record.ColBool, nil
	default:
		return 0, fmt.Errorf("unsupported column type: %s", t)
	}
}
