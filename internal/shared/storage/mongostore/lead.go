package mongostore

import (
	"context"
	"time"

	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// LeadStore
// ============================================================================

func (s *Store) CreateLead(ctx context.Context, lead *model.Lead) error {
	return insertOne(ctx, s.col(ColLeads), lead)
}

func (s *Store) GetLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	return findOne[model.Lead](ctx, s.col(ColLeads), bson.D{{Key: "_id", Value: id}})
}

// GetLeadByPhone 按电话精确匹配查重
func (s *Store) GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	return findOne[model.Lead](ctx, s.col(ColLeads), bson.D{{Key: "phone", Value: phone}})
}

// ListLeads 列出线索，assignedTo 非 nil 时只返回该坐席的线索
func (s *Store) ListLeads(ctx context.Context, assignedTo *string) ([]*model.Lead, error) {
	filter := bson.D{}
	if assignedTo != nil {
		filter = bson.D{{Key: "assigned_to", Value: *assignedTo}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return findMany[model.Lead](ctx, s.col(ColLeads), filter, opts)
}

func (s *Store) UpdateLead(ctx context.Context, lead *model.Lead) error {
	return updateFields(ctx, s.col(ColLeads), lead.ID, bson.D{
		{Key: "name", Value: lead.Name},
		{Key: "phone", Value: lead.Phone},
		{Key: "email", Value: lead.Email},
		{Key: "source", Value: lead.Source},
		{Key: "status", Value: lead.Status},
		{Key: "assigned_to", Value: lead.AssignedTo},
		{Key: "updated_at", Value: lead.UpdatedAt},
	})
}

func (s *Store) DeleteLead(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColLeads), id)
}

// InsertLeads 批量插入导入的线索
//
// 使用有序 InsertMany：中途失败时此前的行已持久化、不回滚，
// 批量导入是尽力而为而非事务写入。
func (s *Store) InsertLeads(ctx context.Context, leads []*model.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	docs := make([]interface{}, len(leads))
	for i, l := range leads {
		docs[i] = l
	}
	_, err := s.col(ColLeads).InsertMany(ctx, docs)
	return wrapError(err)
}

// AssignLeads 批量改派
func (s *Store) AssignLeads(ctx context.Context, leadIDs []string, assigneeID string) (int64, error) {
	res, err := s.col(ColLeads).UpdateMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: leadIDs}}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "assigned_to", Value: assigneeID},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.ModifiedCount, nil
}

// DeleteLeads 批量删除，不存在的 ID 是空操作
func (s *Store) DeleteLeads(ctx context.Context, leadIDs []string) (int64, error) {
	res, err := s.col(ColLeads).DeleteMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: leadIDs}}}})
	if err != nil {
		return 0, wrapError(err)
	}
	return res.DeletedCount, nil
}

// LeadStats 聚合管道阶段计数与各坐席成交数
func (s *Store) LeadStats(ctx context.Context) (*storage.LeadStats, error) {
	stats := &storage.LeadStats{ByStatus: map[string]int64{}}

	// 各阶段计数
	cursor, err := s.col(ColLeads).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	// 未分配池大小
	unassigned, err := s.col(ColLeads).CountDocuments(ctx, bson.D{{Key: "assigned_to", Value: nil}})
	if err != nil {
		return nil, wrapError(err)
	}
	stats.Unassigned = unassigned

	// 各坐席成交数（排行榜）
	closedCur, err := s.col(ColLeads).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "status", Value: model.LeadStatusClosed},
			{Key: "assigned_to", Value: bson.D{{Key: "$ne", Value: nil}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$assigned_to"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	})
	if err != nil {
		return nil, wrapError(err)
	}
	defer closedCur.Close(ctx)
	for closedCur.Next(ctx) {
		var row storage.AgentClosedCount
		if err := closedCur.Decode(&row); err != nil {
			return nil, err
		}
		stats.ClosedByAgent = append(stats.ClosedByAgent, row)
	}
	if err := closedCur.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
