package db

import (
	"folio/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and migrates the comment schema.
func Open(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	logrus.Info("Database connection established")

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate 创建或更新评论表结构
func Migrate(conn *gorm.DB) error {
	// Auto Migrate
	if err := conn.AutoMigrate(&models.Comment{}); err != nil {
		return errors.Wrap(err, "migrate database")
	}
	logrus.Info("Database migration completed")
	return nil
}
