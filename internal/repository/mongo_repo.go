package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	unreadCollection        = "unread_counters"
)

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, apperr.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w: %v", op, apperr.ErrPersistence, err)
}

// EnsureIndexes creates the indexes the stores rely on. The unique
// pair_key index is what makes conversation creation race safe.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.Collection(conversationsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("pair_key_unique")},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}, Options: options.Index().SetName("participants_updated")},
	}); err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	if _, err := db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("conversation_order"),
	}); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	if _, err := db.Collection(unreadCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("conversation_user_unique"),
	}); err != nil {
		return fmt.Errorf("unread indexes: %w", err)
	}
	return nil
}

type MongoConversationRepository struct {
	coll *mongo.Collection
}

func NewMongoConversationRepository(db *mongo.Database) *MongoConversationRepository {
	return &MongoConversationRepository{coll: db.Collection(conversationsCollection)}
}

func (r *MongoConversationRepository) Insert(ctx context.Context, c *domain.Conversation) error {
	_, err := r.coll.InsertOne(ctx, c)
	return wrap("insert conversation", err)
}

func (r *MongoConversationRepository) findOne(ctx context.Context, filter bson.M) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := r.findOne(ctx, bson.M{"_id": id})
	return c, wrap("get conversation", err)
}

func (r *MongoConversationRepository) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	c, err := r.findOne(ctx, bson.M{"pair_key": pairKey})
	return c, wrap("get conversation by pair", err)
}

func (r *MongoConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, wrap("list conversations", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, wrap("decode conversation", err)
		}
		out = append(out, &c)
	}
	return out, wrap("list conversations", cur.Err())
}

func (r *MongoConversationRepository) UpdateLastMessage(ctx context.Context, id string, snap domain.LastMessage) error {
	filter := bson.M{
		"_id": id,
		"$or": []bson.M{
			{"last_message": bson.M{"$exists": false}},
			{"last_message": nil},
			{"last_message.timestamp": bson.M{"$lt": snap.Timestamp}},
			{"last_message.timestamp": snap.Timestamp, "last_message.message_id": bson.M{"$lte": snap.MessageID}},
		},
	}
	update := bson.M{
		"$set": bson.M{"last_message": snap},
		"$max": bson.M{"updated_at": snap.Timestamp},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrap("update last message", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// a newer snapshot is already stored, or the conversation is missing
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("update last message", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

type MongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(db *mongo.Database) *MongoMessageRepository {
	return &MongoMessageRepository{coll: db.Collection(messagesCollection)}
}

func (r *MongoMessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	_, err := r.coll.InsertOne(ctx, m)
	return wrap("insert message", err)
}

func (r *MongoMessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Message, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap("find messages", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, wrap("decode message", err)
		}
		out = append(out, &m)
	}
	return out, wrap("find messages", cur.Err())
}

func (r *MongoMessageRepository) List(ctx context.Context, conversationID string, skip, limit int64) ([]*domain.Message, error) {
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("find messages: negative skip or limit: %w", apperr.ErrValidation)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)
	return r.find(ctx, bson.M{"conversation_id": conversationID}, opts)
}

func (r *MongoMessageRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	if len(ids) == 0 {
		return []*domain.Message{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
}

func (r *MongoMessageRepository) MarkRead(ctx context.Context, ids []string, readerID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{
			"_id":       bson.M{"$in": ids},
			"is_read":   false,
			"sender_id": bson.M{"$ne": readerID},
		},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
	)
	return wrap("mark read", err)
}

type MongoUnreadRepository struct {
	coll *mongo.Collection
}

func NewMongoUnreadRepository(db *mongo.Database) *MongoUnreadRepository {
	return &MongoUnreadRepository{coll: db.Collection(unreadCollection)}
}

// upsert retries once on a duplicate key, which happens when two upserts
// race to create the same counter document.
func (r *MongoUnreadRepository) upsert(ctx context.Context, conversationID, userID string, update bson.M) error {
	filter := bson.M{"conversation_id": conversationID, "user_id": userID}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		_, err = r.coll.UpdateOne(ctx, filter, update, opts)
	}
	return err
}

func (r *MongoUnreadRepository) Increment(ctx context.Context, conversationID, userID string) error {
	err := r.upsert(ctx, conversationID, userID, bson.M{
		"$inc": bson.M{"count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	return wrap("increment unread", err)
}

func (r *MongoUnreadRepository) Reset(ctx context.Context, conversationID, userID string) error {
	err := r.upsert(ctx, conversationID, userID, bson.M{
		"$set": bson.M{"count": 0, "updated_at": time.Now().UTC()},
	})
	return wrap("reset unread", err)
}

type unreadDoc struct {
	ConversationID string `bson:"conversation_id"`
	UserID         string `bson:"user_id"`
	Count          int    `bson:"count"`
}

func (r *MongoUnreadRepository) Counts(ctx context.Context, conversationIDs []string) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": bson.M{"$in": conversationIDs}})
	if err != nil {
		return nil, wrap("unread counts", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d unreadDoc
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("decode unread", err)
		}
		if out[d.ConversationID] == nil {
			out[d.ConversationID] = map[string]int{}
		}
		out[d.ConversationID][d.UserID] = d.Count
	}
	return out, wrap("unread counts", cur.Err())
}
