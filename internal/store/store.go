// Package store persists research sessions in MongoDB: one document per
// session in the sessions collection plus a companion integrity hash in
// integrity_hashes. History snapshots accumulate inside the
// session document.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hyperifyio/deepresearch/internal/session"
)

const (
	sessionsCollection = "sessions"
	hashesCollection   = "integrity_hashes"
)

var (
	// ErrNotFound marks a lookup of a session id with no document.
	ErrNotFound = errors.New("session not found")
	// ErrIterationNotFound marks a rollback target absent from history.
	ErrIterationNotFound = errors.New("iteration not found in history")
)

// Store wraps the two collections. Per-session operations are serial at
// the application level; document-level atomicity comes from Mongo.
type Store struct {
	sessions *mongo.Collection
	hashes   *mongo.Collection

	mu        sync.Mutex
	corrupted map[string]bool

	now func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		sessions:  db.Collection(sessionsCollection),
		hashes:    db.Collection(hashesCollection),
		corrupted: make(map[string]bool),
		now:       time.Now,
	}
}

type sessionDoc struct {
	ID               string                 `bson:"_id"`
	UserID           string                 `bson:"user_id,omitempty"`
	CreatedAt        time.Time              `bson:"created_at"`
	UpdatedAt        time.Time              `bson:"updated_at"`
	Status           string                 `bson:"status"`
	CurrentIteration int                    `bson:"current_iteration"`
	Data             session.Session        `bson:"data"`
	LastError        string                 `bson:"last_error,omitempty"`
	Version          int                    `bson:"version"`
	History          []session.HistoryEntry `bson:"history"`
}

type hashDoc struct {
	SessionID   string `bson:"session_id"`
	SessionHash string `bson:"session_hash"`
}

// Save inserts a new session (allocating its id) or updates the
// top-level fields of an existing one without touching history. The
// integrity hash is recomputed either way. Use Snapshot at iteration
// boundaries to also record a history entry.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	now := s.now().UTC()
	sess.UpdatedAt = now

	if sess.SessionID == "" {
		sess.SessionID = uuid.NewString()
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = now
		}
		doc := sessionDoc{
			ID:               sess.SessionID,
			UserID:           sess.UserID,
			CreatedAt:        sess.CreatedAt,
			UpdatedAt:        now,
			Status:           string(sess.Status),
			CurrentIteration: sess.CurrentIteration,
			Data:             *sess,
			LastError:        sess.LastError,
			Version:          sess.Version,
			History:          []session.HistoryEntry{},
		}
		if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return s.upsertHash(ctx, sess)
	}

	update := bson.M{"$set": bson.M{
		"status":            string(sess.Status),
		"current_iteration": sess.CurrentIteration,
		"data":              *sess,
		"last_error":        sess.LastError,
		"updated_at":        now,
	}}
	res, err := s.sessions.UpdateOne(ctx, bson.M{"_id": sess.SessionID}, update)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.SessionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update session %s: %w", sess.SessionID, ErrNotFound)
	}
	return s.upsertHash(ctx, sess)
}

// Snapshot updates the session like Save and additionally pushes a
// history entry capturing the aggregated data at iteration's end. The
// iteration index -1 marks an error snapshot.
func (s *Store) Snapshot(ctx context.Context, sess *session.Session, iteration int) error {
	if sess.SessionID == "" {
		if err := s.Save(ctx, sess); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	sess.UpdatedAt = now

	entry := session.HistoryEntry{
		Iteration: iteration,
		Timestamp: now,
		Data:      sess.AggregatedData.Clone(),
	}
	update := bson.M{
		"$set": bson.M{
			"status":            string(sess.Status),
			"current_iteration": sess.CurrentIteration,
			"data":              *sess,
			"last_error":        sess.LastError,
			"updated_at":        now,
		},
		"$push": bson.M{"history": entry},
	}
	res, err := s.sessions.UpdateOne(ctx, bson.M{"_id": sess.SessionID}, update)
	if err != nil {
		return fmt.Errorf("snapshot session %s: %w", sess.SessionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("snapshot session %s: %w", sess.SessionID, ErrNotFound)
	}
	return s.upsertHash(ctx, sess)
}

func (s *Store) upsertHash(ctx context.Context, sess *session.Session) error {
	hash, err := session.IntegrityHash(sess.AggregatedData)
	if err != nil {
		return fmt.Errorf("hash session %s: %w", sess.SessionID, err)
	}
	_, err = s.hashes.UpdateOne(ctx,
		bson.M{"session_id": sess.SessionID},
		bson.M{"$set": bson.M{"session_hash": hash}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert hash for %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *Store) loadDoc(ctx context.Context, id string) (*sessionDoc, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &doc, nil
}

// Load returns the session body plus whether its stored integrity hash
// still matches. A mismatch does not block the read.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, bool, error) {
	doc, err := s.loadDoc(ctx, id)
	if err != nil {
		return nil, false, err
	}
	sess := doc.Data
	sess.SessionID = doc.ID
	sess.Status = session.DecodeStatus(string(sess.Status))

	ok, err := s.checkHash(ctx, &sess)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("integrity check failed")
		ok = false
	}
	return &sess, ok, nil
}

func (s *Store) checkHash(ctx context.Context, sess *session.Session) (bool, error) {
	want, err := session.IntegrityHash(sess.AggregatedData)
	if err != nil {
		return false, err
	}
	var stored hashDoc
	err = s.hashes.FindOne(ctx, bson.M{"session_id": sess.SessionID}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load hash for %s: %w", sess.SessionID, err)
	}
	return stored.SessionHash == want, nil
}

// List projects session summaries in insertion order. Documents flagged
// corrupt by Verify are excluded; unknown status strings decode to
// error rather than dropping the row.
func (s *Store) List(ctx context.Context, userID string) ([]session.Summary, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}
	proj := bson.M{
		"_id":               1,
		"data.user_query":   1,
		"status":            1,
		"created_at":        1,
		"updated_at":        1,
		"current_iteration": 1,
		"last_error":        1,
		"data.end_time":     1,
	}
	cur, err := s.sessions.Find(ctx, filter, options.Find().SetProjection(proj))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode session summaries: %w", err)
	}

	s.mu.Lock()
	corrupted := make(map[string]bool, len(s.corrupted))
	for id := range s.corrupted {
		corrupted[id] = true
	}
	s.mu.Unlock()

	out := make([]session.Summary, 0, len(docs))
	for _, doc := range docs {
		if corrupted[doc.ID] {
			continue
		}
		out = append(out, summarize(doc))
	}
	return out, nil
}

func summarize(doc sessionDoc) session.Summary {
	return session.Summary{
		SessionID: doc.ID,
		UserQuery: doc.Data.UserQuery,
		Status:    session.DecodeStatus(doc.Status),
		StartTime: doc.CreatedAt,
		EndTime:   doc.Data.EndTime,
	}
}

// Delete removes the session and its hash record. Deleting an unknown
// id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrNotFound)
	}
	if _, err := s.hashes.DeleteOne(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("delete hash for %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.corrupted, id)
	s.mu.Unlock()
	return nil
}

// Resume returns the latest persisted state. Continuing a run from it
// requires a new chat request; resume never re-enters a half-finished
// iteration.
func (s *Store) Resume(ctx context.Context, id string) (*session.Session, error) {
	sess, _, err := s.Load(ctx, id)
	return sess, err
}

// History returns the ordered snapshot list for a session.
func (s *Store) History(ctx context.Context, id string) ([]session.HistoryEntry, error) {
	doc, err := s.loadDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.History == nil {
		return []session.HistoryEntry{}, nil
	}
	return doc.History, nil
}

// Rollback restores the latest history entry recorded for the target
// iteration: the aggregated data is replaced atomically, the iteration
// pointer moves back, the status returns to running, and any end time
// is cleared. The hash is recomputed from the restored data.
func (s *Store) Rollback(ctx context.Context, id string, iteration int) (*session.Session, error) {
	doc, err := s.loadDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, ok := latestEntryFor(doc.History, iteration)
	if !ok {
		return nil, fmt.Errorf("session %s iteration %d: %w", id, iteration, ErrIterationNotFound)
	}

	sess := doc.Data
	sess.SessionID = doc.ID
	sess.AggregatedData = entry.Data.Clone()
	sess.CurrentIteration = iteration
	sess.Status = session.StatusRunning
	sess.EndTime = nil
	sess.UpdatedAt = s.now().UTC()

	update := bson.M{"$set": bson.M{
		"status":            string(sess.Status),
		"current_iteration": iteration,
		"data":              sess,
		"updated_at":        sess.UpdatedAt,
	}}
	if _, err := s.sessions.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return nil, fmt.Errorf("rollback session %s: %w", id, err)
	}
	if err := s.upsertHash(ctx, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// latestEntryFor picks the most recent snapshot recorded for the target
// iteration. Multiple entries can carry the same index after repeated
// rollback-and-rerun cycles; the last one wins.
func latestEntryFor(history []session.HistoryEntry, iteration int) (session.HistoryEntry, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Iteration == iteration {
			return history[i], true
		}
	}
	return session.HistoryEntry{}, false
}

// Verify sweeps every session at startup, recomputing its integrity
// hash. Mismatches are logged and excluded from listings; the documents
// stay readable through explicit loads.
func (s *Store) Verify(ctx context.Context) error {
	cur, err := s.sessions.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("integrity sweep: %w", err)
	}
	defer cur.Close(ctx)

	checked, bad := 0, 0
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			log.Warn().Err(err).Msg("integrity sweep: undecodable session document")
			continue
		}
		checked++
		sess := doc.Data
		sess.SessionID = doc.ID
		ok, err := s.checkHash(ctx, &sess)
		if err != nil {
			log.Warn().Err(err).Str("session_id", doc.ID).Msg("integrity sweep: hash check failed")
			ok = false
		}
		if !ok {
			bad++
			s.mu.Lock()
			s.corrupted[doc.ID] = true
			s.mu.Unlock()
			log.Warn().Str("session_id", doc.ID).Msg("integrity mismatch, excluding from listings")
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("integrity sweep: %w", err)
	}
	log.Info().Int("checked", checked).Int("mismatched", bad).Msg("session integrity sweep complete")
	return nil
}
