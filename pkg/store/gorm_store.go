package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"paper2slides/pkg/domain"
)

// GormPersister implements Persister using GORM.
type GormPersister struct {
	db *gorm.DB
}

// OpenGormPersister picks a driver from the DSN: "sqlite:" prefixed DSNs use the
// pure-Go SQLite driver, everything else is treated as a Postgres DSN.
func OpenGormPersister(dsn string) (*GormPersister, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database URL required")
	}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return NewGormPersister(sqlite.Open(path))
	}
	return NewGormPersister(postgres.Open(dsn))
}

// NewGormPersister opens the DB and runs auto-migrations.
func NewGormPersister(dialector gorm.Dialector) (*GormPersister, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ConversationModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormPersister{db: db}, nil
}

// Load returns conversations ordered by their saved position.
func (p *GormPersister) Load() ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := p.db.Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		conv, err := conversationFromModel(m)
		if err != nil {
			continue
		}
		res = append(res, conv)
	}
	return res, nil
}

// Save upserts every conversation and deletes rows no longer present.
func (p *GormPersister) Save(convs []domain.Conversation) error {
	models := make([]ConversationModel, 0, len(convs))
	ids := make([]string, 0, len(convs))
	for i, conv := range convs {
		model, err := conversationToModel(conv, i)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
		}
		models = append(models, model)
		ids = append(ids, conv.ID)
	}
	return p.db.Transaction(func(tx *gorm.DB) error {
		if len(ids) == 0 {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ConversationModel{}).Error
		}
		if err := tx.Where("id NOT IN ?", ids).Delete(&ConversationModel{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "title", "config", "messages", "files", "generated_outputs", "updated_at"}),
		}).Create(&models).Error
	})
}

// Clear deletes every stored conversation.
func (p *GormPersister) Clear() error {
	return p.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ConversationModel{}).Error
}

// Close releases the underlying connection pool.
func (p *GormPersister) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func conversationToModel(c domain.Conversation, position int) (ConversationModel, error) {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return ConversationModel{}, err
	}
	msgs, err := json.Marshal(nonNil(c.Messages))
	if err != nil {
		return ConversationModel{}, err
	}
	files, err := json.Marshal(nonNil(c.Files))
	if err != nil {
		return ConversationModel{}, err
	}
	outputs, err := json.Marshal(nonNil(c.GeneratedOutputs))
	if err != nil {
		return ConversationModel{}, err
	}
	return ConversationModel{
		ID:               c.ID,
		Position:         position,
		Title:            c.Title,
		Config:           datatypes.JSON(cfg),
		Messages:         datatypes.JSON(msgs),
		Files:            datatypes.JSON(files),
		GeneratedOutputs: datatypes.JSON(outputs),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}, nil
}

func conversationFromModel(m ConversationModel) (domain.Conversation, error) {
	conv := domain.Conversation{
		ID:        m.ID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if err := unmarshalJSON(m.Config, &conv.Config); err != nil {
		return domain.Conversation{}, err
	}
	if err := unmarshalJSON(m.Messages, &conv.Messages); err != nil {
		return domain.Conversation{}, err
	}
	if err := unmarshalJSON(m.Files, &conv.Files); err != nil {
		return domain.Conversation{}, err
	}
	if err := unmarshalJSON(m.GeneratedOutputs, &conv.GeneratedOutputs); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func unmarshalJSON(raw datatypes.JSON, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
