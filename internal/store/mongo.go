package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoMetaID = "meta"

// MongoPersister stores one document per conversation plus a meta document
// carrying the schema version, the active conversation ID, the reasoning
// level and the insertion order.
type MongoPersister struct {
	client        *mongo.Client
	conversations *mongo.Collection
	meta          *mongo.Collection
}

type mongoConversation struct {
	ID       string       `bson:"_id"`
	Title    string       `bson:"title"`
	Messages []TurnRecord `bson:"messages"`
}

type mongoMeta struct {
	ID        string   `bson:"_id"`
	Version   int      `bson:"version"`
	Active    string   `bson:"active,omitempty"`
	Reasoning string   `bson:"reasoning,omitempty"`
	Order     []string `bson:"order"`
}

func NewMongoPersister(ctx context.Context, uri, database string) (*MongoPersister, error) {
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(pingCtx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	db := client.Database(database)
	return &MongoPersister{
		client:        client,
		conversations: db.Collection("conversations"),
		meta:          db.Collection("store_meta"),
	}, nil
}

func (p *MongoPersister) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

func (p *MongoPersister) Load(ctx context.Context) (*Snapshot, error) {
	var meta mongoMeta
	err := p.meta.FindOne(ctx, bson.M{"_id": mongoMetaID}).Decode(&meta)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: load meta: %w", err)
	}

	cursor, err := p.conversations.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo: load conversations: %w", err)
	}
	defer cursor.Close(ctx)

	byID := make(map[string]mongoConversation)
	for cursor.Next(ctx) {
		var doc mongoConversation
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode conversation: %w", err)
		}
		byID[doc.ID] = doc
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate conversations: %w", err)
	}

	snap := &Snapshot{
		Version:   meta.Version,
		Active:    meta.Active,
		Reasoning: meta.Reasoning,
	}
	for _, id := range meta.Order {
		doc, ok := byID[id]
		if !ok {
			continue
		}
		snap.Conversations = append(snap.Conversations, ConversationSnapshot{
			ID:       doc.ID,
			Title:    doc.Title,
			Messages: doc.Messages,
		})
		delete(byID, id)
	}
	// documents missing from the order list still get imported
	for id, doc := range byID {
		snap.Conversations = append(snap.Conversations, ConversationSnapshot{
			ID:       id,
			Title:    doc.Title,
			Messages: doc.Messages,
		})
	}

	return snap, nil
}

func (p *MongoPersister) Save(ctx context.Context, snap *Snapshot) error {
	order := make([]string, 0, len(snap.Conversations))
	keep := make([]string, 0, len(snap.Conversations))

	for _, cs := range snap.Conversations {
		order = append(order, cs.ID)
		keep = append(keep, cs.ID)

		doc := mongoConversation{ID: cs.ID, Title: cs.Title, Messages: cs.Messages}
		_, err := p.conversations.ReplaceOne(ctx,
			bson.M{"_id": cs.ID}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("mongo: upsert conversation %s: %w", cs.ID, err)
		}
	}

	if _, err := p.conversations.DeleteMany(ctx, bson.M{"_id": bson.M{"$nin": keep}}); err != nil {
		return fmt.Errorf("mongo: prune conversations: %w", err)
	}

	meta := mongoMeta{
		ID:        mongoMetaID,
		Version:   snap.Version,
		Active:    snap.Active,
		Reasoning: snap.Reasoning,
		Order:     order,
	}
	_, err := p.meta.ReplaceOne(ctx,
		bson.M{"_id": mongoMetaID}, meta, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert meta: %w", err)
	}

	return nil
}
