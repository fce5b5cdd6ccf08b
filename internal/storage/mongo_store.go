package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/ride-booking/internal/models"
)

// MongoStore keeps one document per user, per booking and per
// conversation. Guards are expressed as FindOneAndUpdate filters so each
// transition is a single atomic document write.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	bookings      *mongo.Collection
	conversations *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		users:         db.Collection("users"),
		bookings:      db.Collection("bookings"),
		conversations: db.Collection("conversations"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "driver", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "motorType", Value: 1}}},
	}); err != nil {
		return err
	}
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "customer", Value: 1}}},
		{Keys: bson.D{{Key: "driver", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func mongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	}
	return unavailable(err)
}

var returnAfter = options.FindOneAndUpdate().SetReturnDocument(options.After)

func (s *MongoStore) InsertUser(ctx context.Context, u *models.User) error {
	doc := u.Clone()
	doc.Email = strings.ToLower(doc.Email)
	_, err := s.users.InsertOne(ctx, doc)
	return mongoErr(err)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mongoErr(err)
	}
	return &u, nil
}

func (s *MongoStore) User(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": strings.ToLower(email)})
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mongoErr(err)
	}
	out := make([]*models.User, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoErr(err)
	}
	return out, nil
}

func driverFilter(id string) bson.M {
	return bson.M{"_id": id, "role": models.RoleDriver}
}

func (s *MongoStore) SetAvailability(ctx context.Context, id string, available bool) (*models.User, error) {
	var u models.User
	err := s.users.FindOneAndUpdate(ctx, driverFilter(id),
		bson.M{"$set": bson.M{"driverInfo.isAvailable": available}}, returnAfter).Decode(&u)
	if err != nil {
		return nil, mongoErr(err)
	}
	return &u, nil
}

func (s *MongoStore) updateDriver(ctx context.Context, id string, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, driverFilter(id), update)
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetLocation(ctx context.Context, id string, loc models.Coord) error {
	return s.updateDriver(ctx, id, bson.M{"$set": bson.M{"driverInfo.lastLocation": loc}})
}

func (s *MongoStore) IncrementTrips(ctx context.Context, id string) error {
	return s.updateDriver(ctx, id, bson.M{"$inc": bson.M{"driverInfo.totalTrips": 1}})
}

func (s *MongoStore) SetDriverRating(ctx context.Context, id string, rating float64) error {
	return s.updateDriver(ctx, id, bson.M{"$set": bson.M{"driverInfo.rating": rating}})
}

func (s *MongoStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	_, err := s.bookings.InsertOne(ctx, b)
	return mongoErr(err)
}

func (s *MongoStore) Booking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b); err != nil {
		return nil, mongoErr(err)
	}
	return &b, nil
}

func bookingFilter(q BookingQuery) bson.M {
	f := bson.M{}
	if q.CustomerID != "" {
		f["user"] = q.CustomerID
	}
	switch {
	case q.DriverID != "":
		f["driver"] = q.DriverID
	case q.Unassigned:
		f["driver"] = nil
	}
	if q.Tier != "" {
		f["motorType"] = q.Tier
	}
	if len(q.Statuses) > 0 {
		f["status"] = bson.M{"$in": q.Statuses}
	}
	return f
}

func (s *MongoStore) FindBookings(ctx context.Context, q BookingQuery) ([]*models.Booking, error) {
	if q.DriverID != "" && q.Unassigned {
		return []*models.Booking{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.bookings.Find(ctx, bookingFilter(q), opts)
	if err != nil {
		return nil, mongoErr(err)
	}
	out := make([]*models.Booking, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoErr(err)
	}
	return out, nil
}

// guarded applies update to the booking when filter (which always pins
// _id) matches. A miss is resolved into not-found or conflict.
func (s *MongoStore) guarded(ctx context.Context, id string, filter, update bson.M) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOneAndUpdate(ctx, filter, update, returnAfter).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.bookings.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return nil, unavailable(cerr)
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, mongoErr(err)
	}
	return &b, nil
}

func (s *MongoStore) AssignDriver(ctx context.Context, id, driverID string, tier models.Tier, at time.Time) (*models.Booking, error) {
	filter := bson.M{"_id": id, "status": models.StatusPending, "driver": nil, "motorType": tier}
	update := bson.M{"$set": bson.M{"driver": driverID, "status": models.StatusAccepted, "updatedAt": at}}
	return s.guarded(ctx, id, filter, update)
}

func (s *MongoStore) UpdateBooking(ctx context.Context, id string, expect models.Status, p models.BookingPatch, at time.Time) (*models.Booking, error) {
	set := bson.M{"updatedAt": at}
	if p.PickupLocation != nil {
		set["pickupLocation"] = *p.PickupLocation
	}
	if p.Destination != nil {
		set["destination"] = *p.Destination
	}
	if p.PickupTime != nil {
		set["pickupTime"] = *p.PickupTime
	}
	if p.Tier != nil {
		set["motorType"] = *p.Tier
	}
	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.PaymentStatus != nil {
		set["paymentStatus"] = *p.PaymentStatus
	}
	return s.guarded(ctx, id, bson.M{"_id": id, "status": expect}, bson.M{"$set": set})
}

func (s *MongoStore) SetRating(ctx context.Context, id string, r models.Rating, at time.Time) (*models.Booking, error) {
	filter := bson.M{"_id": id, "status": models.StatusCompleted, "rating": nil}
	return s.guarded(ctx, id, filter, bson.M{"$set": bson.M{"rating": r, "updatedAt": at}})
}

func (s *MongoStore) MarkPaid(ctx context.Context, id, ref string, at time.Time) (*models.Booking, error) {
	filter := bson.M{"_id": id, "status": models.StatusCompleted, "paymentStatus": models.PaymentUnpaid}
	update := bson.M{"$set": bson.M{"paymentStatus": models.PaymentPaid, "paymentRef": ref, "updatedAt": at}}
	return s.guarded(ctx, id, filter, update)
}

func (s *MongoStore) DriverScores(ctx context.Context, driverID string) (int, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"driver": driverID, "rating.score": bson.M{"$gt": 0}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"sum":   bson.M{"$sum": "$rating.score"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := s.bookings.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, unavailable(err)
	}
	var rows []struct {
		Sum   int `bson:"sum"`
		Count int `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, 0, unavailable(err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Sum, rows[0].Count, nil
}

func (s *MongoStore) Conversation(ctx context.Context, bookingID string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": bookingID}).Decode(&c); err != nil {
		return nil, mongoErr(err)
	}
	if c.Messages == nil {
		c.Messages = []models.Message{}
	}
	return &c, nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	doc := c.Clone()
	if doc.Messages == nil {
		// $push needs an array to append to.
		doc.Messages = []models.Message{}
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, mongoErr(err)
	}
	return s.Conversation(ctx, c.BookingID)
}

func (s *MongoStore) AppendMessage(ctx context.Context, bookingID string, m models.Message) (*models.Conversation, error) {
	update := bson.M{
		"$push": bson.M{"messages": m},
		"$max":  bson.M{"lastUpdated": m.CreatedAt},
	}
	var c models.Conversation
	if err := s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": bookingID}, update, returnAfter).Decode(&c); err != nil {
		return nil, mongoErr(err)
	}
	return &c, nil
}

// MarkRead counts the flipped messages on the pre-image returned by the
// same single-document update, so the count matches what was written.
func (s *MongoStore) MarkRead(ctx context.Context, bookingID, readerID string) (int, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"m.sender": bson.M{"$ne": readerID}, "m.readStatus": false}},
		})
	var before models.Conversation
	err := s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": bookingID},
		bson.M{"$set": bson.M{"messages.$[m].readStatus": true}}, opts).Decode(&before)
	if err != nil {
		return 0, mongoErr(err)
	}
	return before.Unread(readerID), nil
}

func (s *MongoStore) ConversationsOf(ctx context.Context, actorID string) ([]*models.Conversation, error) {
	filter := bson.M{"$or": bson.A{bson.M{"customer": actorID}, bson.M{"driver": actorID}}}
	cur, err := s.conversations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "lastUpdated", Value: -1}}))
	if err != nil {
		return nil, mongoErr(err)
	}
	out := make([]*models.Conversation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoErr(err)
	}
	return out, nil
}
