package executor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/semmidev/keepsake/internal/domain"
)

const (
	ToolPgDump    = "pg_dump"
	ToolMySQLDump = "mysqldump"
	ToolMongoDump = "mongodump"
)

// dialect knows how to dump and load one family of database engines.
type dialect interface {
	engines() []domain.DatabaseEngine
	ext() string
	// compressed reports whether the dump tool already compresses its output.
	compressed() bool
	dump(db *domain.DatabaseSpec, path string) Command
	load(db *domain.DatabaseSpec, path string) Command
}

// DatabaseExecutor runs a logical dump tool against a database resource.
type DatabaseExecutor struct {
	runner   Runner
	pipeline *Pipeline
	dialect  dialect
}

func NewPostgres(runner Runner, pipeline *Pipeline) *DatabaseExecutor {
	return &DatabaseExecutor{runner: runner, pipeline: pipeline, dialect: postgres{}}
}

func NewMySQL(runner Runner, pipeline *Pipeline) *DatabaseExecutor {
	return &DatabaseExecutor{runner: runner, pipeline: pipeline, dialect: mysql{}}
}

func NewMongo(runner Runner, pipeline *Pipeline) *DatabaseExecutor {
	return &DatabaseExecutor{runner: runner, pipeline: pipeline, dialect: mongo{}}
}

func (d *DatabaseExecutor) Capture(ctx context.Context, r *domain.Resource) (domain.Artifact, error) {
	db, err := d.spec(r)
	if err != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", err)
	}

	return d.pipeline.Capture(ctx, r, d.dialect.ext(), !d.dialect.compressed(), func(ctx context.Context, path string) error {
		return d.runner.Run(ctx, d.dialect.dump(db, path))
	})
}

func (d *DatabaseExecutor) Restore(ctx context.Context, r *domain.Resource, location string) error {
	db, err := d.spec(r)
	if err != nil {
		return domain.NewExecutionError("restore", err)
	}

	return d.pipeline.Restore(ctx, location, d.dialect.ext(), !d.dialect.compressed(), func(ctx context.Context, path string) error {
		return d.runner.Run(ctx, d.dialect.load(db, path))
	})
}

func (d *DatabaseExecutor) spec(r *domain.Resource) (*domain.DatabaseSpec, error) {
	if r.Kind != domain.KindDatabase || r.Database == nil {
		return nil, fmt.Errorf("resource %s is not a database", r.ID)
	}
	for _, e := range d.dialect.engines() {
		if r.Database.Engine == e {
			return r.Database, nil
		}
	}
	return nil, fmt.Errorf("engine %q is not supported by this tool", r.Database.Engine)
}

type postgres struct{}

func (postgres) engines() []domain.DatabaseEngine {
	return []domain.DatabaseEngine{domain.EnginePostgres}
}
func (postgres) ext() string      { return ".dump" }
func (postgres) compressed() bool { return true }

func (postgres) connArgs(db *domain.DatabaseSpec) []string {
	return []string{
		fmt.Sprintf("--host=%s", db.Host),
		fmt.Sprintf("--port=%d", portOr(db.Port, 5432)),
		fmt.Sprintf("--username=%s", db.Username),
	}
}

func (postgres) env(db *domain.DatabaseSpec) []string {
	env := []string{fmt.Sprintf("PGPASSWORD=%s", db.Password)}
	if db.SSLMode != "" {
		env = append(env, fmt.Sprintf("PGSSLMODE=%s", db.SSLMode))
	}
	return env
}

func (p postgres) dump(db *domain.DatabaseSpec, path string) Command {
	args := append(p.connArgs(db),
		"--format=custom",
		"--compress=9",
		fmt.Sprintf("--file=%s", path),
		db.Name,
	)
	return Command{Name: "pg_dump", Args: args, Env: p.env(db)}
}

func (p postgres) load(db *domain.DatabaseSpec, path string) Command {
	args := append(p.connArgs(db),
		"--clean",
		"--if-exists",
		"--no-owner",
		"--single-transaction",
		fmt.Sprintf("--dbname=%s", db.Name),
		path,
	)
	return Command{Name: "pg_restore", Args: args, Env: p.env(db)}
}

type mysql struct{}

func (mysql) engines() []domain.DatabaseEngine {
	return []domain.DatabaseEngine{domain.EngineMySQL, domain.EngineMaria}
}
func (mysql) ext() string      { return ".sql" }
func (mysql) compressed() bool { return false }

func (mysql) connArgs(db *domain.DatabaseSpec) []string {
	return []string{
		fmt.Sprintf("--host=%s", db.Host),
		fmt.Sprintf("--port=%d", portOr(db.Port, 3306)),
		fmt.Sprintf("--user=%s", db.Username),
	}
}

func (m mysql) dump(db *domain.DatabaseSpec, path string) Command {
	args := append(m.connArgs(db),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		fmt.Sprintf("--result-file=%s", path),
		db.Name,
	)
	return Command{Name: "mysqldump", Args: args, Env: []string{"MYSQL_PWD=" + db.Password}}
}

func (m mysql) load(db *domain.DatabaseSpec, path string) Command {
	args := append(m.connArgs(db), db.Name)
	return Command{Name: "mysql", Args: args, Env: []string{"MYSQL_PWD=" + db.Password}, Stdin: path}
}

type mongo struct{}

func (mongo) engines() []domain.DatabaseEngine { return []domain.DatabaseEngine{domain.EngineMongo} }
func (mongo) ext() string                      { return ".archive.gz" }
func (mongo) compressed() bool                 { return true }

func (mongo) uri(db *domain.DatabaseSpec) string {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%s/%s",
		db.Username,
		db.Password,
		db.Host,
		strconv.Itoa(portOr(db.Port, 27017)),
		db.Name,
	)
	if db.AuthDatabase != "" {
		uri += fmt.Sprintf("?authSource=%s", db.AuthDatabase)
	}
	return uri
}

func (m mongo) dump(db *domain.DatabaseSpec, path string) Command {
	return Command{Name: "mongodump", Args: []string{
		fmt.Sprintf("--uri=%s", m.uri(db)),
		fmt.Sprintf("--archive=%s", path),
		"--gzip",
	}}
}

func (m mongo) load(db *domain.DatabaseSpec, path string) Command {
	return Command{Name: "mongorestore", Args: []string{
		fmt.Sprintf("--uri=%s", m.uri(db)),
		fmt.Sprintf("--archive=%s", path),
		"--gzip",
		"--drop",
	}}
}

func portOr(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}
