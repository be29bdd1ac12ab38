package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

const ClassName = "PolicyChunk"

// ErrSchemaTokenization is returned when an existing class tokenizes a filter
// property into words. Weaviate cannot change tokenization in place; the class
// has to be dropped and the policies re-ingested.
var ErrSchemaTokenization = errors.New("vector schema: filter property is not field-tokenized")

// SchemaClient defines the Weaviate schema operations needed at bootstrap
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EntryKeyProperty holds the chunk key; Weaviate object ids must be UUIDs.
const EntryKeyProperty = "entryKey"

// Filter properties use field tokenization so "Virginia" never matches
// "West Virginia" and ContainsAny compares whole values.
const tokenizationField = "field"

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: EntryKeyProperty, DataType: []string{"text"}, Tokenization: tokenizationField},
		{Name: MetaPolicyID, DataType: []string{"text"}, Tokenization: tokenizationField},
		{Name: MetaStateID, DataType: []string{"text"}, Tokenization: tokenizationField},
		{Name: MetaStateName, DataType: []string{"text"}, Tokenization: tokenizationField},
		{Name: MetaPolicyTitle, DataType: []string{"text"}},
		{Name: MetaPageNumber, DataType: []string{"int"}},
		{Name: MetaChunkIndex, DataType: []string{"int"}},
		{Name: MetaContent, DataType: []string{"text"}},
	}
}

// EnsureSchema creates the PolicyChunk class, or adds properties missing from an older one
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		class := &models.Class{
			Class:             ClassName,
			Description:       "An embedded chunk of a policy document",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existingProps := make(map[string]*models.Property)
	for _, p := range class.Properties {
		existingProps[p.Name] = p
	}

	for _, p := range properties {
		if existing, ok := existingProps[p.Name]; ok {
			if p.Tokenization == tokenizationField && existing.Tokenization != tokenizationField {
				return fmt.Errorf("%w: %s.%s has tokenization %q", ErrSchemaTokenization, ClassName, p.Name, existing.Tokenization)
			}
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}

	return nil
}

// EnsureSchemaWithRetry retries EnsureSchema while Weaviate is still starting.
func EnsureSchemaWithRetry(ctx context.Context, client SchemaClient, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = EnsureSchema(ctx, client); err == nil {
			return nil
		}
		if errors.Is(err, ErrSchemaTokenization) {
			return err
		}
		slog.WarnContext(ctx, "failed to ensure vector schema, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("ensure schema after %d attempts: %w", attempts, err)
}
