package backup

import (
	"context"
	"fmt"
	"log"
	"time"

	"stock_data_backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	MongoDBName          = "stock_data"
	MongoPriceCollection = "price_data"
)

// MongoMirror keeps a secondary copy of fetched price history in MongoDB
// Atlas. Purely best-effort: the relational store stays authoritative.
type MongoMirror struct {
	client   *mongo.Client
	database *mongo.Database
}

// mongoPriceDoc is the per-symbol document layout in MongoDB
type mongoPriceDoc struct {
	Symbol    string           `bson:"_id"`
	UpdatedAt time.Time        `bson:"updated_at"`
	DataCount int              `bson:"data_count"`
	Prices    []mongoPriceRow  `bson:"prices"`
}

type mongoPriceRow struct {
	Date          time.Time `bson:"date"`
	Source        string    `bson:"source"`
	Open          float64   `bson:"open"`
	High          float64   `bson:"high"`
	Low           float64   `bson:"low"`
	Close         float64   `bson:"close"`
	Volume        int64     `bson:"volume"`
	Change        float64   `bson:"change"`
	ChangePercent float64   `bson:"change_percent"`
}

// NewMongoMirror connects to MongoDB and verifies the connection
func NewMongoMirror(ctx context.Context, uri string) (*MongoMirror, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("MongoDB ping failed: %w", err)
	}

	log.Println("MongoDB price mirror connected")
	return &MongoMirror{
		client:   client,
		database: client.Database(MongoDBName),
	}, nil
}

// MirrorPrices implements refresh.PriceMirror: replaces the per-symbol
// price document with the latest fetched history.
func (m *MongoMirror) MirrorPrices(ctx context.Context, symbol string, prices []models.StockPrice) error {
	rows := make([]mongoPriceRow, len(prices))
	for i, p := range prices {
		rows[i] = mongoPriceRow{
			Date:          p.Date,
			Source:        p.Source,
			Open:          p.Open.InexactFloat64(),
			High:          p.High.InexactFloat64(),
			Low:           p.Low.InexactFloat64(),
			Close:         p.Close.InexactFloat64(),
			Volume:        p.Volume,
			Change:        p.Change.InexactFloat64(),
			ChangePercent: p.ChangePercent.InexactFloat64(),
		}
	}

	doc := mongoPriceDoc{
		Symbol:    symbol,
		UpdatedAt: time.Now(),
		DataCount: len(rows),
		Prices:    rows,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := m.database.Collection(MongoPriceCollection).ReplaceOne(
		writeCtx,
		bson.M{"_id": symbol},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to mirror prices for %s: %w", symbol, err)
	}
	return nil
}

// Close disconnects the MongoDB client
func (m *MongoMirror) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
