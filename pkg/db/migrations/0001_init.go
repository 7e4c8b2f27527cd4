package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Machine struct {
	ID           uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	MAC          string                      `gorm:"type:text;uniqueIndex;not null"`
	Hostname     string                      `gorm:"type:text"`
	Architecture string                      `gorm:"type:text"`
	Status       string                      `gorm:"type:text;not null;default:'ready'"`
	EnableHWSync bool                        `gorm:"not null;default:false"`
	SyncInterval *int                        `gorm:"type:integer"`
	LastSync     *time.Time                  `gorm:"type:timestamptz"`
	BMC          datatypes.JSONMap           `gorm:"type:jsonb"`
	Tags         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Device struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MachineID  uuid.UUID         `gorm:"type:uuid;not null;index"`
	Class      string            `gorm:"type:text;not null"`
	Name       string            `gorm:"type:text;not null"`
	Provenance string            `gorm:"type:text;not null;default:'physical'"`
	Attrs      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Machine    Machine           `gorm:"foreignKey:MachineID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Report struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MachineID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Snapshot    datatypes.JSONMap `gorm:"type:jsonb"`
	SubmittedAt time.Time         `gorm:"type:timestamptz;not null"`
	Machine     Machine           `gorm:"foreignKey:MachineID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Setting struct {
	Name      string    `gorm:"type:text;primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Machine{},
		&Device{},
		&Report{},
		&Setting{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Device{}, "Machine"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Report{}, "Machine"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Setting{},
		&Report{},
		&Device{},
		&Machine{},
	); err != nil {
		return err
	}

	return nil
}
