package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore is a MongoDB implementation of Store, for deployments that
// already run Mongo. Sessions are stored as JSON documents; papers,
// messages, and the user profile get their own collections.
type MongoDBStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	papers   *mongo.Collection
	messages *mongo.Collection
	profile  *mongo.Collection
}

// MongoDBStoreConfig holds configuration for MongoDBStore
type MongoDBStoreConfig struct {
	URI      string // connection URI (e.g. "mongodb://localhost:27017")
	Database string // database name (default: "paper_agent")
}

// NewMongoDBStore connects to MongoDB and prepares collections and indexes
func NewMongoDBStore(config MongoDBStoreConfig) (*MongoDBStore, error) {
	if config.URI == "" {
		config.URI = "mongodb://localhost:27017"
	}
	if config.Database == "" {
		config.Database = "paper_agent"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	s := &MongoDBStore{
		client:   client,
		sessions: db.Collection("sessions"),
		papers:   db.Collection("papers"),
		messages: db.Collection("messages"),
		profile:  db.Collection("user_profile"),
	}

	if err := s.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoDBStore) initIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "paper_id", Value: 1}, {Key: "position", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}

	_, err = s.papers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create paper index: %w", err)
	}
	return nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

type sessionDoc struct {
	SessionID string    `bson:"_id"`
	PaperID   string    `bson:"paper_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Load retrieves a session by ID
func (s *MongoDBStore) Load(sessionID string) (*model.Session, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(doc.Data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Save stores or updates a session
func (s *MongoDBStore) Save(session *model.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}

	ctx, cancel := opCtx()
	defer cancel()

	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	doc := sessionDoc{
		SessionID: session.SessionID,
		PaperID:   session.PaperID,
		Data:      string(data),
		UpdatedAt: session.UpdatedAt,
	}
	_, err = s.sessions.ReplaceOne(ctx, bson.M{"_id": session.SessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

type messageDoc struct {
	MessageID string    `bson:"_id"`
	PaperID   string    `bson:"paper_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Position  int       `bson:"position"`
	CreatedAt time.Time `bson:"created_at"`
}

// AppendMessage appends a message to the session history
func (s *MongoDBStore) AppendMessage(sessionID string, msg *model.Message) error {
	session, err := s.Load(sessionID)
	if err != nil {
		return err
	}
	session.AppendMessage(msg)
	if err := s.Save(session); err != nil {
		return err
	}

	ctx, cancel := opCtx()
	defer cancel()

	doc := messageDoc{
		MessageID: msg.MessageID,
		PaperID:   msg.PaperID,
		Role:      msg.Role,
		Content:   msg.Content,
		Position:  msg.Position,
		CreatedAt: msg.CreatedAt,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// DeleteSession removes a session
func (s *MongoDBStore) DeleteSession(sessionID string) error {
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type paperDoc struct {
	PaperID   string             `bson:"_id"`
	Title     string             `bson:"title"`
	FilePath  string             `bson:"file_path"`
	Language  string             `bson:"language"`
	Summary   string             `bson:"summary"`
	Profile   model.PaperProfile `bson:"profile"`
	CreatedAt time.Time          `bson:"created_at"`
}

// PutPaper stores or updates a paper record
func (s *MongoDBStore) PutPaper(paper *model.Paper) error {
	if paper == nil {
		return fmt.Errorf("paper cannot be nil")
	}

	ctx, cancel := opCtx()
	defer cancel()

	doc := paperDoc{
		PaperID:   paper.PaperID,
		Title:     paper.Title,
		FilePath:  paper.FilePath,
		Language:  paper.Language,
		Summary:   paper.Summary,
		Profile:   paper.Profile,
		CreatedAt: paper.CreatedAt,
	}
	_, err := s.papers.ReplaceOne(ctx, bson.M{"_id": paper.PaperID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save paper: %w", err)
	}
	return nil
}

func (d paperDoc) toPaper() *model.Paper {
	return &model.Paper{
		PaperID:   d.PaperID,
		Title:     d.Title,
		FilePath:  d.FilePath,
		Language:  d.Language,
		Summary:   d.Summary,
		Profile:   d.Profile,
		CreatedAt: d.CreatedAt,
	}
}

// GetPaper retrieves a paper by ID
func (s *MongoDBStore) GetPaper(paperID string) (*model.Paper, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var doc paperDoc
	err := s.papers.FindOne(ctx, bson.M{"_id": paperID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("paper %s: %w", paperID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load paper: %w", err)
	}
	return doc.toPaper(), nil
}

// ListPapers returns all papers, newest first
func (s *MongoDBStore) ListPapers() ([]*model.Paper, error) {
	ctx, cancel := opCtx()
	defer cancel()

	cursor, err := s.papers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer cursor.Close(ctx)

	var papers []*model.Paper
	for cursor.Next(ctx) {
		var doc paperDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode paper: %w", err)
		}
		papers = append(papers, doc.toPaper())
	}
	return papers, cursor.Err()
}

// DeletePaper removes a paper, its messages, and its session
func (s *MongoDBStore) DeletePaper(paperID string) error {
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := s.messages.DeleteMany(ctx, bson.M{"paper_id": paperID}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.sessions.DeleteMany(ctx, bson.M{"paper_id": paperID}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := s.papers.DeleteOne(ctx, bson.M{"_id": paperID}); err != nil {
		return fmt.Errorf("failed to delete paper: %w", err)
	}
	return nil
}

// MessagesByPaper returns the conversation in position order
func (s *MongoDBStore) MessagesByPaper(paperID string) ([]*model.Message, error) {
	ctx, cancel := opCtx()
	defer cancel()

	cursor, err := s.messages.Find(ctx, bson.M{"paper_id": paperID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, &model.Message{
			MessageID: doc.MessageID,
			PaperID:   doc.PaperID,
			Role:      doc.Role,
			Content:   doc.Content,
			Position:  doc.Position,
			CreatedAt: doc.CreatedAt,
		})
	}
	return msgs, cursor.Err()
}

// LoadProfile returns the shared user profile
func (s *MongoDBStore) LoadProfile() (*model.UserProfile, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var profile model.UserProfile
	err := s.profile.FindOne(ctx, bson.M{"_id": 1}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return &model.UserProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

// SaveProfile replaces the shared user profile atomically (last write wins)
func (s *MongoDBStore) SaveProfile(profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	ctx, cancel := opCtx()
	defer cancel()

	profile.UpdatedAt = time.Now()
	update := bson.M{"$set": bson.M{
		"name":       profile.Name,
		"key_points": profile.KeyPoints,
		"updated_at": profile.UpdatedAt,
	}}
	_, err := s.profile.UpdateOne(ctx, bson.M{"_id": 1}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *MongoDBStore) Close() error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.client.Disconnect(ctx)
}
