// Package mongostore is the raw-content store: it persists the exact
// bytes fetched for a URL, independent of the relational store's
// extracted/derived records. Non-goal per spec: its internal encoding
// policy is ours to choose, but only two operations are exposed to
// callers (StoreRaw, Exists) — grounded on the original Python
// implementation's mongo_storage_manager.py.
package mongostore

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// gzipThreshold is the body size above which RawPage bodies are stored
// gzip-compressed.
const gzipThreshold = 200 * 1024

// Store persists raw fetched bodies in MongoDB.
type Store struct {
	collection *mongo.Collection
	maxBytes   int64
}

// rawPageDoc mirrors spec.md's RawPage: url -> {status_code, body (maybe
// gzipped), length, fetched_at}.
type rawPageDoc struct {
	URL        string    `bson:"url"`
	StatusCode int       `bson:"status_code"`
	Body       []byte    `bson:"body"`
	Gzipped    bool      `bson:"gzipped"`
	Length     int       `bson:"length"`
	FetchedAt  time.Time `bson:"fetched_at"`
}

// Connect dials uri and returns a Store backed by database dbName's
// raw_pages collection, with a unique index on url.
func Connect(ctx context.Context, uri, dbName string, maxHTMLBytes int64) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	collection := client.Database(dbName).Collection("raw_pages")
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create raw_pages index: %w", err)
	}

	return &Store{collection: collection, maxBytes: maxHTMLBytes}, nil
}

// StoreRaw persists body for url, gzip-compressing bodies over 200 kB,
// truncating at maxBytes, and rejecting anything over 10x maxBytes
// outright as almost certainly not a normal HTML document.
func (s *Store) StoreRaw(ctx context.Context, url string, statusCode int, body []byte) error {
	prepared, gzipped, length, err := prepareBody(body, s.maxBytes)
	if err != nil {
		return fmt.Errorf("store raw %s: %w", url, err)
	}

	doc := rawPageDoc{
		URL:        url,
		StatusCode: statusCode,
		Body:       prepared,
		Gzipped:    gzipped,
		Length:     length,
		FetchedAt:  time.Now().UTC(),
	}

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"url": url},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store raw %s: %w", url, err)
	}
	return nil
}

// prepareBody applies the raw-content store's encoding policy: reject
// outright over 10x maxBytes, truncate at maxBytes, gzip anything still
// over gzipThreshold. length is the (possibly truncated) pre-gzip size.
func prepareBody(body []byte, maxBytes int64) (prepared []byte, gzipped bool, length int, err error) {
	if int64(len(body)) > maxBytes*10 {
		return nil, false, 0, fmt.Errorf("body of %d bytes exceeds 10x max_html_bytes (%d)", len(body), maxBytes)
	}

	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
	}
	length = len(body)

	if length > gzipThreshold {
		compressed, gzErr := gzipBytes(body)
		if gzErr != nil {
			return nil, false, 0, fmt.Errorf("gzip body: %w", gzErr)
		}
		return compressed, true, length, nil
	}

	return body, false, length, nil
}

// Exists reports whether url already has a stored raw page.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"url": url}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check raw page exists %s: %w", url, err)
	}
	return count > 0, nil
}

func gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadRaw retrieves and decompresses (if needed) the stored body for url,
// primarily for operator tooling/tests rather than the crawl loop itself.
func (s *Store) ReadRaw(ctx context.Context, url string) ([]byte, error) {
	var doc rawPageDoc
	err := s.collection.FindOne(ctx, bson.M{"url": url}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("read raw %s: %w", url, err)
	}
	if !doc.Gzipped {
		return doc.Body, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("gzip reader for %s: %w", url, err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress raw body for %s: %w", url, err)
	}
	return decompressed, nil
}
