package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Ensure MongoRepository implements ConversationRepository
var _ ports.ConversationRepository = (*MongoRepository)(nil)

// ConversationsCollection is the collection holding chat conversations
const ConversationsCollection = "chat_conversations"

// MongoRepository stores conversations as documents with embedded messages.
// Every mutation is a single-document update so concurrent writers never
// clobber each other's fields.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a new MongoDB repository instance
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		coll: db.Collection(ConversationsCollection),
	}
}

// EnsureIndexes creates the unique session index and list-view indexes
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "last_activity_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "owner_staff_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetOrCreateBySession(ctx context.Context, sessionID string, seed *domain.Conversation) (*domain.Conversation, bool, error) {
	doc := seed.Clone()
	doc.SessionID = sessionID

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$setOnInsert": doc}

	var conv domain.Conversation
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"session_id": sessionID}, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race on the unique index; the winner's record exists now
		existing, getErr := r.GetBySession(ctx, sessionID)
		return existing, false, getErr
	}
	if err != nil {
		slog.Error("Failed to get or create conversation",
			"error", err,
			"session_id", sessionID,
		)
		return nil, false, fmt.Errorf("get or create conversation: %w", err)
	}

	return &conv, conv.ID == doc.ID, nil
}

func (r *MongoRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"session_id": sessionID})
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.coll.FindOne(ctx, filter).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

// isTerminal is the aggregation expression for "stored status is closed or resolved"
var isTerminal = bson.M{"$in": bson.A{"$status", bson.A{domain.StatusClosed, domain.StatusResolved}}}

// ifTerminal picks then when the stored status is terminal, else keeps field
func ifTerminal(then any, field string) bson.M {
	return bson.M{"$cond": bson.A{isTerminal, then, "$" + field}}
}

func (r *MongoRepository) AppendMessage(ctx context.Context, id string, msg domain.Message, opts ports.AppendOptions) (*domain.Conversation, error) {
	unreadInc := 0
	if opts.CountUnread && msg.Sender == domain.SenderCustomer {
		unreadInc = 1
	}

	// Pipeline update so the conditional reopen lands in the same write as
	// the push. Client-supplied values are wrapped in $literal.
	set := bson.M{
		"messages":             bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$messages", bson.A{}}}, bson.A{bson.M{"$literal": msg}}}},
		"last_activity_at":     msg.CreatedAt,
		"last_message_preview": bson.M{"$literal": domain.PreviewOf(msg)},
		"unread_for_staff":     bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$unread_for_staff", 0}}, unreadInc}},
		"updated_at":           msg.CreatedAt,
	}
	if opts.Reopen {
		set["status"] = ifTerminal(domain.StatusActive, "status")
		set["owner_staff_id"] = ifTerminal(nil, "owner_staff_id")
		set["owner_staff_name"] = ifTerminal(nil, "owner_staff_name")
		set["taken_over_at"] = ifTerminal(nil, "taken_over_at")
		set["closed_at"] = ifTerminal(nil, "closed_at")
		set["cycle"] = ifTerminal(bson.M{"$add": bson.A{"$cycle", 1}}, "cycle")
	}
	if p := opts.Profile; p != nil {
		if p.Name != "" {
			set["customer_profile.name"] = bson.M{"$literal": p.Name}
		}
		if p.Phone != "" {
			set["customer_profile.phone"] = bson.M{"$literal": p.Phone}
		}
		if p.Email != "" {
			set["customer_profile.email"] = bson.M{"$literal": p.Email}
		}
	}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, bson.A{bson.M{"$set": set}})
	if err != nil {
		slog.Error("Failed to append message",
			"error", err,
			"conversation_id", id,
			"sender", msg.Sender,
		)
		return nil, fmt.Errorf("append message: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) AppendIfUnowned(ctx context.Context, id string, msg domain.Message) (*domain.Conversation, error) {
	filter := bson.M{"_id": id, "owner_staff_id": nil}
	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set": bson.M{
			"last_activity_at":     msg.CreatedAt,
			"last_message_preview": domain.PreviewOf(msg),
			"updated_at":           msg.CreatedAt,
		},
	}

	conv, err := r.findAndUpdate(ctx, filter, update)
	if errors.Is(err, domain.ErrNotFound) {
		// Distinguish a missing record from a failed ownership condition
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrOwnershipChanged
	}
	if err != nil {
		return nil, fmt.Errorf("append unowned message: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) AssignOwner(ctx context.Context, id, staffID, staffName string, at time.Time) (*domain.Conversation, error) {
	pipeline := bson.A{bson.M{"$set": bson.M{
		"cycle":            ifTerminal(bson.M{"$add": bson.A{"$cycle", 1}}, "cycle"),
		"closed_at":        ifTerminal(nil, "closed_at"),
		"status":           domain.StatusActive,
		"owner_staff_id":   bson.M{"$literal": staffID},
		"owner_staff_name": bson.M{"$literal": staffName},
		"taken_over_at":    at,
		"updated_at":       at,
	}}}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return nil, fmt.Errorf("assign owner: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) ReleaseOwner(ctx context.Context, id string) (*domain.Conversation, error) {
	update := bson.M{"$set": bson.M{
		"owner_staff_id":   nil,
		"owner_staff_name": nil,
		"taken_over_at":    nil,
		"staff_typing":     false,
		"updated_at":       time.Now(),
	}}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, fmt.Errorf("release owner: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) SetStatus(ctx context.Context, id string, status domain.ConversationStatus, at time.Time) (*domain.Conversation, error) {
	update := bson.M{"$set": bson.M{
		"status":           status,
		"owner_staff_id":   nil,
		"owner_staff_name": nil,
		"taken_over_at":    nil,
		"customer_typing":  false,
		"staff_typing":     false,
		"closed_at":        at,
		"updated_at":       at,
	}}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) MarkRead(ctx context.Context, id string, at time.Time) (*domain.Conversation, error) {
	update := bson.M{"$set": bson.M{
		"messages.$[m].is_read": true,
		"messages.$[m].read_at": at,
		"unread_for_staff":      0,
		"updated_at":            at,
	}}
	arrayFilters := options.ArrayFilters{Filters: []interface{}{
		bson.M{"m.sender": domain.SenderCustomer, "m.is_read": false},
	}}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetArrayFilters(arrayFilters))
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) SetTyping(ctx context.Context, id string, kind domain.ParticipantKind, typing bool) error {
	field := "customer_typing"
	if kind == domain.ParticipantStaff {
		field = "staff_typing"
	}

	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: typing}})
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoRepository) SetRating(ctx context.Context, id string, rating domain.Rating) (*domain.Conversation, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"rating": nil},
			bson.M{"$expr": bson.M{"$ne": bson.A{"$rating.cycle", "$cycle"}}},
		},
	}
	pipeline := bson.A{bson.M{"$set": bson.M{
		"rating": bson.M{
			"score":    rating.Score,
			"feedback": bson.M{"$literal": rating.Feedback},
			"rated_at": rating.RatedAt,
			"cycle":    "$cycle",
		},
		"updated_at": rating.RatedAt,
	}}}

	conv, err := r.findAndUpdate(ctx, filter, pipeline)
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrAlreadyRated
	}
	if err != nil {
		return nil, fmt.Errorf("set rating: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) Annotate(ctx context.Context, id string, tags []string, notes string) (*domain.Conversation, error) {
	if tags == nil {
		tags = []string{}
	}
	update := bson.M{"$set": bson.M{
		"tags":        tags,
		"staff_notes": notes,
		"updated_at":  time.Now(),
	}}

	conv, err := r.findAndUpdate(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	return conv, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		slog.Error("Failed to delete conversation",
			"error", err,
			"conversation_id", id,
		)
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}

	slog.Warn("Conversation deleted", "conversation_id", id)
	return nil
}

func (r *MongoRepository) List(ctx context.Context, filter domain.ConversationFilter) ([]*domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.coll.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*domain.Conversation, 0)
	for cursor.Next(ctx) {
		var conv domain.Conversation
		if err := cursor.Decode(&conv); err != nil {
			slog.Error("Failed to decode conversation", "error", err)
			continue
		}
		conversations = append(conversations, &conv)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

func (r *MongoRepository) Count(ctx context.Context, filter domain.ConversationFilter) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, buildFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

func (r *MongoRepository) SumUnread(ctx context.Context, filter domain.ConversationFilter) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: buildFilter(filter)}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$unread_for_staff"}}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("sum unread: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode unread sum: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// findAndUpdate applies update and returns the post-image, mapping a missing
// document to domain.ErrNotFound
func (r *MongoRepository) findAndUpdate(ctx context.Context, filter bson.M, update any, opts ...*options.FindOneAndUpdateOptions) (*domain.Conversation, error) {
	opts = append(opts, options.FindOneAndUpdate().SetReturnDocument(options.After))

	var conv domain.Conversation
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts...).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// buildFilter translates a domain filter into a MongoDB query
func buildFilter(f domain.ConversationFilter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.Owned != nil {
		if *f.Owned {
			filter["owner_staff_id"] = bson.M{"$ne": nil}
		} else {
			filter["owner_staff_id"] = nil
		}
	}
	if f.CreatedSince != nil {
		filter["created_at"] = bson.M{"$gte": *f.CreatedSince}
	}
	return filter
}
