package infrastructure

import (
	"checkout/internal/service/order/domain"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// LedgerStore 是账本与其 outbox 的组合，两种实现都同时提供
type LedgerStore interface {
	domain.Ledger
	domain.Outbox
}

// OpenMySQL 打开 MySQL 连接池。parseTime 必须开启，时间列才能映射为 time.Time
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "mysql pool")
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenLedger 按驱动名创建账本，返回的 closer 释放底层连接
func OpenLedger(driver, dsn string) (LedgerStore, func() error, error) {
	switch driver {
	case "memory":
		return NewMemoryLedger(), func() error { return nil }, nil
	case "mysql":
		db, err := OpenMySQL(dsn)
		if err != nil {
			return nil, nil, err
		}
		l := NewGormLedger(db)
		if err := l.AutoMigrate(); err != nil {
			return nil, nil, errors.Wrap(err, "migrate ledger tables")
		}
		sqlDB, _ := db.DB()
		return l, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger driver %q", driver)
}
