package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore implements Store on MongoDB collections `offerings`, `bookings`
// and `cart_items`. Multi-document atomicity uses session transactions, so the
// deployment must be a replica set.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	offerings *mongo.Collection
	bookings  *mongo.Collection
	carts     *mongo.Collection
}

// NewMongoStore constructs a MongoStore on the given database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		db:        db,
		offerings: db.Collection("offerings"),
		bookings:  db.Collection("bookings"),
		carts:     db.Collection("cart_items"),
	}
}

// EnsureIndexes creates the secondary indexes used by list queries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.bookings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create bookings index: %w", err)
	}
	if _, err := s.carts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "buyer_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create cart index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type offeringDoc struct {
	ID           string     `bson:"_id"`
	SellerID     string     `bson:"seller_id"`
	Name         string     `bson:"name"`
	Region       string     `bson:"region"`
	UnitPrice    string     `bson:"unit_price"`
	Description  string     `bson:"description"`
	HarvestStart *time.Time `bson:"harvest_start,omitempty"`
	HarvestEnd   *time.Time `bson:"harvest_end,omitempty"`
	BookingStart *time.Time `bson:"booking_start,omitempty"`
	BookingEnd   *time.Time `bson:"booking_end,omitempty"`
	Limit        *int       `bson:"limit"`
	Reserved     int        `bson:"reserved"`
	Version      int64      `bson:"version"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

type lineItemDoc struct {
	OfferingID string `bson:"offering_id"`
	Quantity   int    `bson:"quantity"`
	UnitPrice  string `bson:"unit_price"`
}

type bookingDoc struct {
	ID           string         `bson:"_id"`
	BuyerID      string         `bson:"buyer_id"`
	Items        []lineItemDoc  `bson:"items"`
	Shipping     model.Shipping `bson:"shipping"`
	Payment      model.Payment  `bson:"payment"`
	Status       string         `bson:"status"`
	CancelReason string         `bson:"cancel_reason,omitempty"`
	CancelledAt  *time.Time     `bson:"cancelled_at,omitempty"`
	Version      int64          `bson:"version"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

type cartDoc struct {
	ID         string    `bson:"_id"`
	BuyerID    string    `bson:"buyer_id"`
	OfferingID string    `bson:"offering_id"`
	Quantity   int       `bson:"quantity"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toOfferingDoc(o *model.Offering) offeringDoc {
	return offeringDoc{
		ID: o.ID, SellerID: o.SellerID, Name: o.Name, Region: o.Region,
		UnitPrice: o.UnitPrice.String(), Description: o.Description,
		HarvestStart: o.HarvestStart, HarvestEnd: o.HarvestEnd,
		BookingStart: o.BookingStart, BookingEnd: o.BookingEnd,
		Limit: o.Limit, Reserved: o.Reserved, Version: o.Version,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func (d offeringDoc) toModel() (*model.Offering, error) {
	price, err := decimal.NewFromString(d.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("offering %s unit price: %w", d.ID, err)
	}
	return &model.Offering{
		ID: d.ID, SellerID: d.SellerID, Name: d.Name, Region: d.Region,
		UnitPrice: price, Description: d.Description,
		HarvestStart: d.HarvestStart, HarvestEnd: d.HarvestEnd,
		BookingStart: d.BookingStart, BookingEnd: d.BookingEnd,
		Limit: d.Limit, Reserved: d.Reserved, Version: d.Version,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func toBookingDoc(b *model.Booking) bookingDoc {
	items := make([]lineItemDoc, 0, len(b.Items))
	for _, li := range b.Items {
		items = append(items, lineItemDoc{OfferingID: li.OfferingID, Quantity: li.Quantity, UnitPrice: li.UnitPrice.String()})
	}
	return bookingDoc{
		ID: b.ID, BuyerID: b.BuyerID, Items: items, Shipping: b.Shipping, Payment: b.Payment,
		Status: string(b.Status), CancelReason: b.CancelReason, CancelledAt: b.CancelledAt,
		Version: b.Version, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt,
	}
}

func (d bookingDoc) toModel() (*model.Booking, error) {
	status, err := model.ParseBookingStatus(d.Status)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", d.ID, err)
	}
	items := make([]model.LineItem, 0, len(d.Items))
	for _, li := range d.Items {
		price, err := decimal.NewFromString(li.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("booking %s unit price: %w", d.ID, err)
		}
		items = append(items, model.LineItem{OfferingID: li.OfferingID, Quantity: li.Quantity, UnitPrice: price})
	}
	return &model.Booking{
		ID: d.ID, BuyerID: d.BuyerID, Items: items, Shipping: d.Shipping, Payment: d.Payment,
		Status: status, CancelReason: d.CancelReason, CancelledAt: d.CancelledAt,
		Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func cartKey(buyerID, offeringID string) string {
	return buyerID + "/" + offeringID
}

// serverTime reads the clock of the server the client is talking to.
func (s *MongoStore) serverTime(ctx context.Context) (time.Time, error) {
	var reply struct {
		LocalTime time.Time `bson:"localTime"`
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply); err != nil {
		return time.Time{}, fmt.Errorf("read server clock: %w", err)
	}
	return reply.LocalTime.UTC(), nil
}

// RunInTx runs fn inside a session transaction. Transient transaction errors
// raised by the server are retried by the driver; a lost version check is
// returned to the caller as ErrTransactionConflict.
func (s *MongoStore) RunInTx(ctx context.Context, fn TxFunc) error {
	now, err := s.serverTime(ctx)
	if err != nil {
		return err
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		return nil, fn(sc, &mongoTx{s: s, now: now})
	})
	if err != nil {
		return mapMongoError(err)
	}
	return nil
}

func (s *MongoStore) CreateOffering(ctx context.Context, o *model.Offering) error {
	now, err := s.serverTime(ctx)
	if err != nil {
		return err
	}
	o.ID = newID()
	o.Reserved = 0
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now
	if _, err := s.offerings.InsertOne(ctx, toOfferingDoc(o)); err != nil {
		return fmt.Errorf("insert offering: %w", err)
	}
	return nil
}

func (s *MongoStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return findOffering(ctx, s.offerings, id)
}

func (s *MongoStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return findBooking(ctx, s.bookings, id)
}

func (s *MongoStore) ListBookingsByBuyer(ctx context.Context, buyerID string) ([]model.Booking, error) {
	cur, err := s.bookings.Find(ctx,
		bson.D{{Key: "buyer_id", Value: buyerID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	bookings := make([]model.Booking, 0, len(docs))
	for _, d := range docs {
		b, err := d.toModel()
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, nil
}

func (s *MongoStore) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	var doc bookingDoc
	err := s.bookings.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(from)}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "status", Value: string(to)}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
			{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := s.GetBooking(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking %s is no longer %s: %w", id, from, ErrTransactionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	return doc.toModel()
}

func (s *MongoStore) PutCartItem(ctx context.Context, item *model.CartItem) error {
	var doc cartDoc
	err := s.carts.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: cartKey(item.BuyerID, item.OfferingID)}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "buyer_id", Value: item.BuyerID},
				{Key: "offering_id", Value: item.OfferingID},
				{Key: "quantity", Value: item.Quantity},
			}},
			{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	item.UpdatedAt = doc.UpdatedAt
	return nil
}

func (s *MongoStore) ListCart(ctx context.Context, buyerID string) ([]model.CartItem, error) {
	cur, err := s.carts.Find(ctx,
		bson.D{{Key: "buyer_id", Value: buyerID}},
		options.Find().SetSort(bson.D{{Key: "offering_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	var docs []cartDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	items := make([]model.CartItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, model.CartItem{
			BuyerID: d.BuyerID, OfferingID: d.OfferingID, Quantity: d.Quantity, UpdatedAt: d.UpdatedAt,
		})
	}
	return items, nil
}

type mongoTx struct {
	s   *MongoStore
	now time.Time
}

func (t *mongoTx) Now(context.Context) (time.Time, error) {
	return t.now, nil
}

func (t *mongoTx) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return findOffering(ctx, t.s.offerings, id)
}

func (t *mongoTx) UpdateOffering(ctx context.Context, o *model.Offering) error {
	res, err := t.s.offerings.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: o.ID}, {Key: "version", Value: o.Version}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "reserved", Value: o.Reserved},
				{Key: "updated_at", Value: t.now},
			}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
	)
	if err != nil {
		return fmt.Errorf("update offering: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("offering %s: %w", o.ID, ErrTransactionConflict)
	}
	o.Version++
	o.UpdatedAt = t.now
	return nil
}

func (t *mongoTx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return findBooking(ctx, t.s.bookings, id)
}

func (t *mongoTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	b.ID = newID()
	b.Version = 1
	if _, err := t.s.bookings.InsertOne(ctx, toBookingDoc(b)); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *mongoTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	set := bson.D{
		{Key: "status", Value: string(b.Status)},
		{Key: "cancel_reason", Value: b.CancelReason},
		{Key: "updated_at", Value: b.UpdatedAt},
	}
	if b.CancelledAt != nil {
		set = append(set, bson.E{Key: "cancelled_at", Value: *b.CancelledAt})
	}
	res, err := t.s.bookings.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: b.ID}, {Key: "version", Value: b.Version}},
		bson.D{
			{Key: "$set", Value: set},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, ErrTransactionConflict)
	}
	b.Version++
	return nil
}

func (t *mongoTx) ClearCart(ctx context.Context, buyerID string, offeringIDs []string) error {
	keys := make([]string, 0, len(offeringIDs))
	for _, id := range offeringIDs {
		keys = append(keys, cartKey(buyerID, id))
	}
	_, err := t.s.carts.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}})
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func findOffering(ctx context.Context, coll *mongo.Collection, id string) (*model.Offering, error) {
	var doc offeringDoc
	err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offering: %w", err)
	}
	return doc.toModel()
}

func findBooking(ctx context.Context, coll *mongo.Collection, id string) (*model.Booking, error) {
	var doc bookingDoc
	err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return doc.toModel()
}

// mapMongoError reports write conflicts the driver gave up retrying as
// ErrTransactionConflict.
func mapMongoError(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%v: %w", err, ErrTransactionConflict)
	}
	return err
}
