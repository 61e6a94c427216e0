package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// CanonicalObjectModel 对象当前状态
// 对应表: canonical_objects; search_vector 生成列在迁移中追加
type CanonicalObjectModel struct {
	ID           string         `gorm:"primaryKey;size:512"`
	Platform     string         `gorm:"size:32;not null"`
	ObjectType   string         `gorm:"size:32;not null;index:idx_canonical_object_type"`
	Repository   string         `gorm:"size:255;not null;index:idx_canonical_repository"`
	State        string         `gorm:"size:64"`
	URL          string         `gorm:"size:1024"`
	Title        string         `gorm:"type:text"`
	Body         string         `gorm:"type:text"`
	CreatedBy    string         `gorm:"size:255"`
	UpdatedBy    string         `gorm:"size:255"`
	Participants pq.StringArray `gorm:"type:text[]"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime:false;index:idx_canonical_updated"`
	Properties   sqlstore.JSON
	SearchText   string `gorm:"type:text;not null;default:''"`
	RawPayload   sqlstore.JSON
	IngestedAt   time.Time `gorm:"not null"`
}

// TableName 指定表名
func (CanonicalObjectModel) TableName() string {
	return "canonical_objects"
}

// canonicalColumns 显式列出, 避免读取 search_vector
const canonicalColumns = "canonical_objects.id, canonical_objects.platform, canonical_objects.object_type, " +
	"canonical_objects.repository, canonical_objects.state, canonical_objects.url, canonical_objects.title, " +
	"canonical_objects.body, canonical_objects.created_by, canonical_objects.updated_by, " +
	"canonical_objects.participants, canonical_objects.created_at, canonical_objects.updated_at, " +
	"canonical_objects.properties, canonical_objects.search_text, canonical_objects.raw_payload, " +
	"canonical_objects.ingested_at"

func fromObject(obj *types.CanonicalObject, ingestedAt time.Time) (*CanonicalObjectModel, error) {
	props, err := sqlstore.EncodeMap(obj.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	participants := obj.Actors.Participants
	if participants == nil {
		participants = []string{}
	}
	return &CanonicalObjectModel{
		ID:           obj.ID,
		Platform:     obj.Platform,
		ObjectType:   string(obj.ObjectType),
		Repository:   obj.Repository(),
		State:        obj.State(),
		URL:          obj.URL(),
		Title:        obj.Title,
		Body:         obj.Body,
		CreatedBy:    obj.Actors.CreatedBy,
		UpdatedBy:    obj.Actors.UpdatedBy,
		Participants: pq.StringArray(participants),
		CreatedAt:    obj.Timestamps.CreatedAt.UTC(),
		UpdatedAt:    obj.Timestamps.UpdatedAt.UTC(),
		Properties:   props,
		SearchText:   obj.SearchText,
		RawPayload:   sqlstore.RawJSON(obj.RawPayload),
		IngestedAt:   ingestedAt.UTC(),
	}, nil
}

func (m *CanonicalObjectModel) toObject() (*types.CanonicalObject, error) {
	props, err := sqlstore.DecodeMap(m.Properties)
	if err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	obj := &types.CanonicalObject{
		ID:         m.ID,
		Platform:   m.Platform,
		ObjectType: types.EventType(m.ObjectType),
		Title:      m.Title,
		Body:       m.Body,
		Actors: types.ObjectActors{
			CreatedBy:    m.CreatedBy,
			UpdatedBy:    m.UpdatedBy,
			Participants: []string(m.Participants),
		},
		Timestamps: types.ObjectTimestamps{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		Properties: props,
		SearchText: m.SearchText,
	}
	if len(m.RawPayload) > 0 {
		obj.RawPayload = json.RawMessage(m.RawPayload)
	}
	return obj, nil
}
