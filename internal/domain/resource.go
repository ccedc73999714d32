package domain

import (
	"fmt"
	"time"
)

type ResourceKind string

const (
	KindContainer ResourceKind = "container"
	KindDatabase  ResourceKind = "database"
	KindApp       ResourceKind = "app"
)

func ParseResourceKind(s string) (ResourceKind, error) {
	switch k := ResourceKind(s); k {
	case KindContainer, KindDatabase, KindApp:
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Resource is a tagged variant: exactly one of Container, Database or App is
// set, matching Kind.
type Resource struct {
	ID        string
	Name      string
	Kind      ResourceKind
	CreatedAt time.Time

	Container *ContainerSpec
	Database  *DatabaseSpec
	App       *AppSpec
}

type ContainerSpec struct {
	Container   string `json:"container"`
	Volume      string `json:"volume"`
	Network     string `json:"network,omitempty"`
	ConfigFiles string `json:"config_files,omitempty"`
}

type DatabaseEngine string

const (
	EnginePostgres DatabaseEngine = "postgres"
	EngineMySQL    DatabaseEngine = "mysql"
	EngineMaria    DatabaseEngine = "maria"
	EngineMSSQL    DatabaseEngine = "mssql"
	EngineMongo    DatabaseEngine = "mongo"
	EngineSQLite   DatabaseEngine = "sqlite"
)

type DatabaseSpec struct {
	Engine       DatabaseEngine `json:"engine"`
	Name         string         `json:"name"`
	Host         string         `json:"host"`
	Port         int            `json:"port"`
	Username     string         `json:"username,omitempty"`
	Password     string         `json:"password,omitempty"`
	Version      string         `json:"version,omitempty"`
	ContainerID  string         `json:"container_id,omitempty"`
	AuthDatabase string         `json:"auth_database,omitempty"`
	SSLMode      string         `json:"ssl_mode,omitempty"`
}

type AppSpec struct {
	DataLocation   string `json:"data_location"`
	ConfigLocation string `json:"config_location,omitempty"`
	DatabaseID     string `json:"database_id,omitempty"`
	Runtime        string `json:"runtime,omitempty"`
}

// Validate checks that the attributes matching Kind are present.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("resource id is required")
	}
	switch r.Kind {
	case KindContainer:
		if r.Container == nil || r.Container.Volume == "" {
			return fmt.Errorf("resource %s: container volume is required", r.ID)
		}
	case KindDatabase:
		if r.Database == nil || r.Database.Engine == "" {
			return fmt.Errorf("resource %s: database engine is required", r.ID)
		}
	case KindApp:
		if r.App == nil || r.App.DataLocation == "" {
			return fmt.Errorf("resource %s: app data location is required", r.ID)
		}
	default:
		return fmt.Errorf("resource %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}
