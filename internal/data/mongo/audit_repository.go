package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/salary-advance-lending/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the audit trail collection in MongoDB
	AuditCollectionName = "audit_events"
)

// auditDocument is the stored shape of an audit event; details are kept as an embedded document so they stay queryable
type auditDocument struct {
	EventID       string    `bson:"event_id"`
	TenantID      string    `bson:"tenant_id"`
	LoanID        string    `bson:"loan_id,omitempty"`
	Kind          string    `bson:"kind"`
	ActorID       string    `bson:"actor_id,omitempty"`
	Details       bson.Raw  `bson:"details"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	OccurredAt    time.Time `bson:"occurred_at"`
}

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique event index and the per-loan listing index
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(AuditCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "loan_id", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	})
	if err != nil {
		r.logger.Error("Failed to create audit indexes", "error", err)
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// Create stores an audit event. Returns ErrDuplicateEvent if the event id was already recorded.
func (r *AuditRepository) Create(ctx context.Context, event *audit.Event) error {
	collection := r.db.Collection(AuditCollectionName)

	existing, err := r.GetByID(ctx, event.ID)
	if err != nil && !errors.Is(err, audit.ErrEventNotFound{}) {
		r.logger.Error("Failed to check for existing audit event",
			"event_id", event.ID.String(),
			"error", err)
		return fmt.Errorf("failed to check for existing audit event: %w", err)
	}
	if existing != nil {
		return audit.ErrDuplicateEvent{EventID: event.ID}
	}

	doc, err := toDocument(event)
	if err != nil {
		return err
	}

	if _, err := collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return audit.ErrDuplicateEvent{EventID: event.ID}
		}
		r.logger.Error("Failed to create audit event",
			"event_id", event.ID.String(),
			"kind", string(event.Kind),
			"error", err)
		return fmt.Errorf("failed to create audit event: %w", err)
	}

	return nil
}

func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	var doc auditDocument
	err := collection.FindOne(ctx, bson.M{"event_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, audit.ErrEventNotFound{EventID: id}
		}
		r.logger.Error("Failed to get audit event",
			"event_id", id.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	return fromDocument(&doc)
}

// ListByLoanID returns a loan's audit trail, newest first
func (r *AuditRepository) ListByLoanID(ctx context.Context, tenantID, loanID uuid.UUID, limit, offset int) ([]*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, loanFilter(tenantID, loanID), opts)
	if err != nil {
		r.logger.Error("Failed to list audit events",
			"loan_id", loanID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDocument
	if err := cursor.All(ctx, &docs); err != nil {
		r.logger.Error("Failed to decode audit events",
			"loan_id", loanID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}

	events := make([]*audit.Event, 0, len(docs))
	for i := range docs {
		event, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *AuditRepository) CountByLoanID(ctx context.Context, tenantID, loanID uuid.UUID) (int64, error) {
	count, err := r.db.Collection(AuditCollectionName).CountDocuments(ctx, loanFilter(tenantID, loanID))
	if err != nil {
		r.logger.Error("Failed to count audit events",
			"loan_id", loanID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

func loanFilter(tenantID, loanID uuid.UUID) bson.M {
	return bson.M{"tenant_id": tenantID.String(), "loan_id": loanID.String()}
}

func toDocument(event *audit.Event) (*auditDocument, error) {
	details := []byte(event.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}

	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(details, false, &raw); err != nil {
		return nil, fmt.Errorf("failed to convert %s details: %w", event.Kind, err)
	}

	doc := &auditDocument{
		EventID:       event.ID.String(),
		TenantID:      event.TenantID.String(),
		Kind:          string(event.Kind),
		Details:       raw,
		CorrelationID: event.CorrelationID,
		OccurredAt:    event.OccurredAt.UTC(),
	}
	if event.LoanID != nil {
		doc.LoanID = event.LoanID.String()
	}
	if event.ActorID != nil {
		doc.ActorID = event.ActorID.String()
	}
	return doc, nil
}

func fromDocument(doc *auditDocument) (*audit.Event, error) {
	eventID, err := uuid.Parse(doc.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid stored event id %q: %w", doc.EventID, err)
	}
	tenantID, err := uuid.Parse(doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid stored tenant id %q: %w", doc.TenantID, err)
	}

	event := &audit.Event{
		ID:            eventID,
		TenantID:      tenantID,
		Kind:          audit.Kind(doc.Kind),
		CorrelationID: doc.CorrelationID,
		OccurredAt:    doc.OccurredAt,
	}
	if event.LoanID, err = parseOptionalID(doc.LoanID); err != nil {
		return nil, err
	}
	if event.ActorID, err = parseOptionalID(doc.ActorID); err != nil {
		return nil, err
	}

	if len(doc.Details) > 0 {
		details, err := bson.MarshalExtJSON(doc.Details, false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to convert stored details: %w", err)
		}
		event.Details = details
	}
	return event, nil
}

func parseOptionalID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored id %q: %w", s, err)
	}
	return &id, nil
}
