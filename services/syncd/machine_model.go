package syncd

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type machineModel struct {
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

func (machineModel) TableName() string { return "machines" }

func (m machineModel) toAPI() Machine {
	return Machine{
		ID:           m.ID,
		MAC:          m.MAC,
		Hostname:     m.Hostname,
		Architecture: m.Architecture,
		Status:       m.Status,
		EnableHWSync: m.EnableHWSync,
		SyncInterval: m.SyncInterval,
		LastSync:     m.LastSync,
		BMC:          mapFromJSONMap(m.BMC),
		Tags:         []string(m.Tags),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func machineToModel(m Machine) machineModel {
	return machineModel{
		ID:           m.ID,
		MAC:          m.MAC,
		Hostname:     m.Hostname,
		Architecture: m.Architecture,
		Status:       m.Status,
		EnableHWSync: m.EnableHWSync,
		SyncInterval: m.SyncInterval,
		LastSync:     m.LastSync,
		BMC:          toJSONMap(m.BMC),
		Tags:         datatypes.JSONSlice[string](m.Tags),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type deviceModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MachineID  uuid.UUID         `gorm:"type:uuid;not null;index"`
	Class      string            `gorm:"type:text;not null"`
	Name       string            `gorm:"type:text;not null"`
	Provenance string            `gorm:"type:text;not null;default:'physical'"`
	Attrs      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (deviceModel) TableName() string { return "devices" }

func (d deviceModel) toAPI() Device {
	return Device{
		ID:         d.ID,
		MachineID:  d.MachineID,
		Class:      DeviceClass(d.Class),
		Name:       d.Name,
		Provenance: Provenance(d.Provenance),
		Attrs:      mapFromJSONMap(d.Attrs),
		CreatedAt:  d.CreatedAt,
	}
}

type reportModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MachineID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Snapshot    datatypes.JSONMap `gorm:"type:jsonb"`
	SubmittedAt time.Time         `gorm:"type:timestamptz;not null"`
}

func (reportModel) TableName() string { return "reports" }

type settingModel struct {
	Name      string    `gorm:"type:text;primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (settingModel) TableName() string { return "settings" }

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
