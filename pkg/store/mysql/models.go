package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// CanonicalObjectModel 对象当前状态
// 对应表: canonical_objects; search_text 上建 FULLTEXT 索引
type CanonicalObjectModel struct {
	ID           string        `gorm:"primaryKey;size:512"`
	Platform     string        `gorm:"size:32;not null"`
	ObjectType   string        `gorm:"size:32;not null;index:idx_canonical_object_type"`
	Repository   string        `gorm:"size:255;not null;index:idx_canonical_repository"`
	State        string        `gorm:"size:64"`
	URL          string        `gorm:"size:1024"`
	Title        string        `gorm:"type:text"`
	Body         string        `gorm:"type:mediumtext"`
	CreatedBy    string        `gorm:"size:255"`
	UpdatedBy    string        `gorm:"size:255"`
	Participants sqlstore.JSON // MySQL 没有数组类型, 使用 JSON 数组
	CreatedAt    time.Time     `gorm:"not null;autoCreateTime:false"`
	UpdatedAt    time.Time     `gorm:"not null;autoUpdateTime:false;index:idx_canonical_updated"`
	Properties   sqlstore.JSON
	SearchText   string `gorm:"type:mediumtext;index:idx_canonical_search,class:FULLTEXT"`
	RawPayload   sqlstore.JSON
	IngestedAt   time.Time `gorm:"not null"`
}

// TableName 指定表名
func (CanonicalObjectModel) TableName() string {
	return "canonical_objects"
}

func fromObject(obj *types.CanonicalObject, ingestedAt time.Time) (*CanonicalObjectModel, error) {
	props, err := sqlstore.EncodeMap(obj.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	participants := obj.Actors.Participants
	if participants == nil {
		participants = []string{}
	}
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("marshal participants: %w", err)
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
		Participants: sqlstore.JSON(participantsJSON),
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
	var participants []string
	if len(m.Participants) > 0 {
		if err := json.Unmarshal(m.Participants, &participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
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
			Participants: participants,
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
