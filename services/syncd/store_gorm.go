package syncd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func (s *GormStore) UpsertMachineByMAC(ctx context.Context, m Machine) (Machine, error) {
	orm := s.orm.WithContext(ctx)
	mac := strings.ToLower(m.MAC)

	var existing machineModel
	err := orm.Where("mac = ?", mac).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.MAC = mac
		model := machineToModel(m)
		if err := orm.Create(&model).Error; err != nil {
			return Machine{}, err
		}
		return model.toAPI(), nil
	case err != nil:
		return Machine{}, err
	default:
		updates := map[string]any{
			"hostname":     m.Hostname,
			"architecture": m.Architecture,
			"updated_at":   time.Now().UTC(),
		}
		if err := orm.Model(&existing).Updates(updates).Error; err != nil {
			return Machine{}, err
		}
		if err := orm.First(&existing, "id = ?", existing.ID).Error; err != nil {
			return Machine{}, err
		}
		return existing.toAPI(), nil
	}
}

func (s *GormStore) GetMachine(ctx context.Context, id uuid.UUID) (Machine, error) {
	var model machineModel
	if err := s.orm.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Machine{}, ErrNotFound
		}
		return Machine{}, err
	}
	return model.toAPI(), nil
}

func (s *GormStore) UpdateMachine(ctx context.Context, m Machine) error {
	model := machineToModel(m)
	// Save with explicit column list so cleared sync fields (nil interval,
	// nil last_sync) are written, not skipped as zero values.
	res := s.orm.WithContext(ctx).Model(&machineModel{}).
		Where("id = ?", m.ID).
		Updates(map[string]any{
			"hostname":       model.Hostname,
			"architecture":   model.Architecture,
			"status":         model.Status,
			"enable_hw_sync": model.EnableHWSync,
			"sync_interval":  model.SyncInterval,
			"last_sync":      model.LastSync,
			"bmc":            model.BMC,
			"tags":           model.Tags,
			"updated_at":     model.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListDevices(ctx context.Context, machineID uuid.UUID) ([]Device, error) {
	var models []deviceModel
	err := s.orm.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("class, name").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

func (s *GormStore) ReplaceDevices(ctx context.Context, machineID uuid.UUID, class DeviceClass, devices []Device) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("machine_id = ? AND class = ?", machineID, string(class)).
			Delete(&deviceModel{}).Error; err != nil {
			return err
		}
		if len(devices) == 0 {
			return nil
		}

		models := make([]deviceModel, 0, len(devices))
		for _, d := range devices {
			models = append(models, deviceModel{
				ID:         d.ID,
				MachineID:  d.MachineID,
				Class:      string(d.Class),
				Name:       d.Name,
				Provenance: string(d.Provenance),
				Attrs:      toJSONMap(d.Attrs),
				CreatedAt:  d.CreatedAt,
			})
		}
		return tx.Create(&models).Error
	})
}

func (s *GormStore) DeleteVirtualDevices(ctx context.Context, machineID uuid.UUID) error {
	return s.orm.WithContext(ctx).
		Where("machine_id = ? AND provenance = ?", machineID, string(ProvenanceVirtual)).
		Delete(&deviceModel{}).Error
}

func (s *GormStore) InsertReport(ctx context.Context, rec ReportRecord) error {
	model := reportModel{
		ID:          rec.ID,
		MachineID:   rec.MachineID,
		Snapshot:    toJSONMap(rec.Snapshot),
		SubmittedAt: rec.SubmittedAt,
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetSetting(ctx context.Context, name string) (string, error) {
	var model settingModel
	if err := s.orm.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return model.Value, nil
}

func (s *GormStore) PutSetting(ctx context.Context, name, value string) error {
	model := settingModel{Name: name, Value: value, UpdatedAt: time.Now().UTC()}
	return s.orm.WithContext(ctx).
		Where("name = ?", name).
		Assign(map[string]any{"value": value, "updated_at": model.UpdatedAt}).
		FirstOrCreate(&model).Error
}
