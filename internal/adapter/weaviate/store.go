package weaviate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"policyrag/internal/vector"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// objectNamespace seeds the UUIDv5 derived from each chunk key, so re-upserting
// a key overwrites the same Weaviate object.
var objectNamespace = uuid.MustParse("6f1c8c7e-4d0a-4f4e-9a57-2b0f3c1d9e21")

// Store is the Weaviate-backed vector.Index.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func ObjectID(key string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(key)).String())
}

func (s *Store) Upsert(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		props := make(map[string]interface{}, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			props[k] = v
		}
		props[vector.EntryKeyProperty] = e.ID

		objects = append(objects, &models.Object{
			Class:      vector.ClassName,
			ID:         ObjectID(e.ID),
			Properties: props,
			Vector:     models.C11yVector(e.Values),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failures []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, item := range r.Result.Errors.Error {
			if item != nil {
				failures = append(failures, item.Message)
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	fields := []graphql.Field{
		{Name: vector.EntryKeyProperty},
		{Name: vector.MetaPolicyID},
		{Name: vector.MetaStateID},
		{Name: vector.MetaStateName},
		{Name: vector.MetaPolicyTitle},
		{Name: vector.MetaPageNumber},
		{Name: vector.MetaChunkIndex},
		{Name: vector.MetaContent},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	get := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithLimit(topK).
		WithFields(fields...)

	// Cosine distance is undefined for a zero vector, so that case is a plain filtered scan.
	scan := isZero(vec)
	if !scan {
		get = get.WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vec))
	}
	if where := buildWhere(filter); where != nil {
		get = get.WithWhere(where)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}

	matches := []vector.Match{}
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return matches, nil
	}
	objects, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return matches, nil
	}

	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		m := vector.Match{Metadata: make(map[string]any, len(props))}
		for k, v := range props {
			switch k {
			case vector.EntryKeyProperty:
				m.ID, _ = v.(string)
			case "_additional":
				if additional, ok := v.(map[string]interface{}); ok && !scan {
					if d, ok := additional["distance"].(float64); ok {
						m.Score = 1 - d
					}
				}
			default:
				if v != nil {
					m.Metadata[k] = v
				}
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{vector.EntryKeyProperty}).
			WithOperator(filters.ContainsAny).
			WithValueText(ids...)).
		Do(ctx)
	if err != nil {
		return err
	}
	if resp != nil && resp.Results != nil && resp.Results.Failed > 0 {
		return fmt.Errorf("batch delete: %d of %d objects failed", resp.Results.Failed, resp.Results.Matches)
	}
	return nil
}

func buildWhere(filter vector.Filter) *filters.WhereBuilder {
	fields := make([]string, 0, len(filter))
	for f, values := range filter {
		if len(values) > 0 {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	operands := make([]*filters.WhereBuilder, 0, len(fields))
	for _, f := range fields {
		values := filter[f]
		w := filters.Where().WithPath([]string{f})
		if len(values) == 1 {
			w = w.WithOperator(filters.Equal).WithValueText(values[0])
		} else {
			w = w.WithOperator(filters.ContainsAny).WithValueText(values...)
		}
		operands = append(operands, w)
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
