package resource

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"outreach-service/ddd/infrastructure/database/persistence"
	"outreach-service/pkg/assert"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
	"outreach-service/pkg/repository"
)

var (
	mysqlResourceOnce sync.Once
	mysqlSingleton    *MySqlResource
)

// MySqlResource owns the shared MySQL connection pool.
type MySqlResource struct {
	db *repository.Database
}

func DefaultMySqlResource() *MySqlResource {
	assert.NotCircular()
	mysqlResourceOnce.Do(func() {
		mysqlSingleton = &MySqlResource{}
	})
	assert.NotNil(mysqlSingleton)
	return mysqlSingleton
}

// MustOpen connects and, when enabled, migrates the schema.
func (r *MySqlResource) MustOpen() {
	if r.db != nil {
		return
	}
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before MySqlResource")
	}
	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		panic("failed to connect mysql: " + err.Error())
	}
	if cfg.Database.AutoMigrate {
		if err := persistence.AutoMigrate(db.Self); err != nil {
			db.Close()
			panic("failed to migrate schema: " + err.Error())
		}
		logger.Infof("Database schema migrated database=%s", cfg.Database.Database)
	}
	r.db = db
}

// MainDB returns the gorm handle, nil before MustOpen.
func (r *MySqlResource) MainDB() *gorm.DB {
	if r.db == nil {
		return nil
	}
	return r.db.Self
}

// Ping checks the pool with a round trip to the server.
func (r *MySqlResource) Ping(ctx context.Context) error {
	if r.db == nil {
		return errors.New("mysql not opened")
	}
	sqlDB, err := r.db.Self.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *MySqlResource) Close() {
	r.db.Close()
	r.db = nil
}

// MySqlResourcePlugin MySQL资源插件
type MySqlResourcePlugin struct{}

func (p *MySqlResourcePlugin) Name() string {
	return "mysql"
}

func (p *MySqlResourcePlugin) MustCreateResource() manager.Resource {
	return DefaultMySqlResource()
}
