package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filedrop/internal/domain"
)

const watchRetryDelay = 5 * time.Second

// DropRequestStore keeps drop requests in one collection and serves live
// pending queries through change streams. Change streams need a replica set.
type DropRequestStore struct {
	collection *mongo.Collection
	logger     *slog.Logger
	retryDelay time.Duration
}

type dropRequestDoc struct {
	ID            string `bson:"_id"`
	SenderID      string `bson:"senderId"`
	SenderAlias   string `bson:"senderAlias"`
	ReceiverAlias string `bson:"receiverAlias"`
	Filename      string `bson:"filename"`
	Filesize      int64  `bson:"filesize"`
	Status        string `bson:"status"`
	ReceiverID    string `bson:"receiverId,omitempty"`
	Descriptor    string `bson:"descriptor,omitempty"`
	CreatedAt     int64  `bson:"createdAt"`
	UpdatedAt     int64  `bson:"updatedAt"`
}

func NewDropRequestStore(client *mongo.Client, dbName, collectionName string, logger *slog.Logger) *DropRequestStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DropRequestStore{
		collection: client.Database(dbName).Collection(collectionName),
		logger:     logger,
		retryDelay: watchRetryDelay,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *DropRequestStore) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "receiverAlias", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (s *DropRequestStore) Create(ctx context.Context, r domain.DropRequest) (domain.DropRequest, error) {
	if _, err := s.collection.InsertOne(ctx, toDropRequestDoc(r)); err != nil {
		return domain.DropRequest{}, err
	}
	return r, nil
}

func (s *DropRequestStore) Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error) {
	var doc dropRequestDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.DropRequest{}, domain.ErrNotFound
		}
		return domain.DropRequest{}, err
	}
	return fromDropRequestDoc(doc), nil
}

func (s *DropRequestStore) ListPending(ctx context.Context, receiverAlias string) ([]domain.DropRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, pendingFilter(receiverAlias), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []dropRequestDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.DropRequest, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDropRequestDoc(doc))
	}
	return out, nil
}

func (s *DropRequestStore) UpdateStatus(ctx context.Context, id domain.RequestID, status domain.RequestStatus, receiverID string) error {
	set := bson.M{
		"status":    string(status),
		"updatedAt": time.Now().UTC().Unix(),
	}
	if receiverID != "" {
		set["receiverId"] = receiverID
	}
	return s.update(ctx, id, set)
}

func (s *DropRequestStore) SetDescriptor(ctx context.Context, id domain.RequestID, descriptor string) error {
	return s.update(ctx, id, bson.M{
		"descriptor": descriptor,
		"updatedAt":  time.Now().UTC().Unix(),
	})
}

func (s *DropRequestStore) update(ctx context.Context, id domain.RequestID, set bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": string(id)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// WatchPending blocks until ctx ends. Each (re)connect opens the change stream
// first and then replays the current pending set, so no insert falls between
// the two. Requests that disappeared while disconnected are reported as
// removed on reconnect.
func (s *DropRequestStore) WatchPending(ctx context.Context, receiverAlias string, onChange func(domain.RequestChange), onErr func(error)) error {
	known := make(map[domain.RequestID]struct{})
	emit := func(c domain.RequestChange) {
		switch c.Kind {
		case domain.ChangeAdded:
			if _, ok := known[c.Request.ID]; ok {
				return
			}
			known[c.Request.ID] = struct{}{}
		case domain.ChangeRemoved:
			if _, ok := known[c.Request.ID]; !ok {
				return
			}
			delete(known, c.Request.ID)
		}
		onChange(c)
	}

	for {
		err := s.watch(ctx, receiverAlias, known, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("pending watch interrupted, retrying",
				slog.String("alias", receiverAlias),
				slog.Duration("retryIn", s.retryDelay),
				slog.String("error", err.Error()),
			)
			if onErr != nil {
				onErr(err)
			}
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *DropRequestStore) watch(ctx context.Context, alias string, known map[domain.RequestID]struct{}, emit func(domain.RequestChange)) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.collection.Watch(ctx, watchPipeline(alias), opts)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	current, err := s.ListPending(ctx, alias)
	if err != nil {
		return err
	}
	for _, c := range replayChanges(known, current) {
		emit(c)
	}

	for cs.Next(ctx) {
		var ev changeEventDoc
		if err := cs.Decode(&ev); err != nil {
			s.logger.Warn("change stream decode error", slog.String("error", err.Error()))
			continue
		}
		if c, ok := classifyChange(ev, alias); ok {
			emit(c)
		}
	}
	return cs.Err()
}

// watchPipeline narrows the change stream to events for alias on the server.
// Deletes carry no document and an update looked up after a delete has a null
// fullDocument, so both always pass.
func watchPipeline(alias string) mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "operationType", Value: "delete"}},
				bson.D{{Key: "fullDocument", Value: nil}},
				bson.D{{Key: "fullDocument.receiverAlias", Value: alias}},
			}},
		}}},
	}
}

type changeEventDoc struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *dropRequestDoc `bson:"fullDocument"`
}

// classifyChange maps one change stream event to a pending-list change for
// alias. Events that cannot affect the list report false.
func classifyChange(ev changeEventDoc, alias string) (domain.RequestChange, bool) {
	id := domain.RequestID(ev.DocumentKey.ID)
	switch ev.OperationType {
	case "delete":
		return domain.RequestChange{Kind: domain.ChangeRemoved, Request: domain.DropRequest{ID: id}}, true
	case "insert", "update", "replace":
		if ev.FullDocument == nil {
			// Deleted before the lookup ran.
			return domain.RequestChange{Kind: domain.ChangeRemoved, Request: domain.DropRequest{ID: id}}, true
		}
		r := fromDropRequestDoc(*ev.FullDocument)
		if r.ReceiverAlias != alias {
			return domain.RequestChange{Kind: domain.ChangeRemoved, Request: r}, true
		}
		if r.Status == domain.RequestPending {
			return domain.RequestChange{Kind: domain.ChangeAdded, Request: r}, true
		}
		return domain.RequestChange{Kind: domain.ChangeRemoved, Request: r}, true
	default:
		return domain.RequestChange{}, false
	}
}

// replayChanges diffs the freshly listed pending set against what the
// subscriber already knows.
func replayChanges(known map[domain.RequestID]struct{}, current []domain.DropRequest) []domain.RequestChange {
	present := make(map[domain.RequestID]struct{}, len(current))
	out := make([]domain.RequestChange, 0, len(current))
	for _, r := range current {
		present[r.ID] = struct{}{}
		if _, ok := known[r.ID]; !ok {
			out = append(out, domain.RequestChange{Kind: domain.ChangeAdded, Request: r})
		}
	}
	for id := range known {
		if _, ok := present[id]; !ok {
			out = append(out, domain.RequestChange{Kind: domain.ChangeRemoved, Request: domain.DropRequest{ID: id}})
		}
	}
	return out
}

func pendingFilter(alias string) bson.M {
	return bson.M{"receiverAlias": alias, "status": string(domain.RequestPending)}
}

func toDropRequestDoc(r domain.DropRequest) dropRequestDoc {
	return dropRequestDoc{
		ID:            string(r.ID),
		SenderID:      r.SenderID,
		SenderAlias:   r.SenderAlias,
		ReceiverAlias: r.ReceiverAlias,
		Filename:      r.Filename,
		Filesize:      r.Filesize,
		Status:        string(r.Status),
		ReceiverID:    r.ReceiverID,
		Descriptor:    r.Descriptor,
		CreatedAt:     r.CreatedAt.UTC().Unix(),
		UpdatedAt:     r.UpdatedAt.UTC().Unix(),
	}
}

func fromDropRequestDoc(doc dropRequestDoc) domain.DropRequest {
	return domain.DropRequest{
		ID:            domain.RequestID(doc.ID),
		SenderID:      doc.SenderID,
		SenderAlias:   doc.SenderAlias,
		ReceiverAlias: doc.ReceiverAlias,
		Filename:      doc.Filename,
		Filesize:      doc.Filesize,
		Status:        domain.RequestStatus(doc.Status),
		ReceiverID:    doc.ReceiverID,
		Descriptor:    doc.Descriptor,
		CreatedAt:     time.Unix(doc.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
