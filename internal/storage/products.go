package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Product is the catalog row the relay denormalizes into highlight summaries.
type Product struct {
	ID        string
	Name      string
	Slug      string
	Price     float64
	Currency  string
	Stock     int
	Images    []string
	IsActive  bool
	CreatedAt time.Time
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases the name, strips diacritics and joins the remaining
// alphanumeric runs with dashes.
func Slugify(name string) string {
	decomposed := norm.NFKD.String(strings.ToLower(name))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(nonSlugChars.ReplaceAllString(b.String(), "-"), "-")
}

// CreateProduct inserts a product and returns its id. The slug is derived from
// the name when empty; ErrProductExists is returned when it is already taken.
func (s *Store) CreateProduct(ctx context.Context, product Product) (string, error) {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Slug == "" {
		product.Slug = Slugify(product.Name)
	}
	if product.Currency == "" {
		product.Currency = "PLN"
	}
	images := product.Images
	if images == nil {
		images = []string{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO products(id, name, slug, price, currency, stock, images, is_active)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID, product.Name, product.Slug, product.Price, product.Currency, product.Stock, string(encoded), product.IsActive)
	if err != nil {
		if isConstraintError(err) {
			return "", ErrProductExists
		}
		return "", err
	}
	return product.ID, nil
}

// GetProduct fetches a product by id, returning nil when it does not exist.
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, slug, price, currency, stock, images, is_active, created_at FROM products WHERE id = ?`, id)
	var product Product
	var images string
	if err := row.Scan(&product.ID, &product.Name, &product.Slug, &product.Price, &product.Currency, &product.Stock, &images, &product.IsActive, &product.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if images != "" {
		if err := json.Unmarshal([]byte(images), &product.Images); err != nil {
			return nil, err
		}
	}
	return &product, nil
}
