package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/kgraph/internal/vectorstore")

// pointNamespace seeds the UUIDv5 ids of points whose domain id is not a UUID.
var pointNamespace = uuid.MustParse("6f1c8a4e-3b0d-5c7e-9a41-2d6b8e0f7c13")

// payloadIDField keeps the caller's id next to the Qdrant point id.
const payloadIDField = "id"

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey config.Secret
	UseTLS bool
	// MaxMessageSize bounds gRPC messages in both directions. Default 50MB.
	MaxMessageSize int
	// DialTimeout bounds the startup health check. Default 5s.
	DialTimeout time.Duration
}

// QdrantConfigFromApp converts the qdrant config section.
func QdrantConfigFromApp(app config.QdrantConfig) QdrantConfig {
	return QdrantConfig{
		Host:           app.Host,
		Port:           app.Port,
		APIKey:         app.APIKey,
		UseTLS:         app.UseTLS,
		MaxMessageSize: app.MaxMessageSize,
		DialTimeout:    app.DialTimeout.Duration(),
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: invalid max message size %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	return nil
}

// QdrantStore is a Store backed by a Qdrant server over gRPC.
//
// Qdrant only accepts UUIDs and integers as point ids, so other ids are
// mapped to a deterministic UUIDv5 and the original id is stored in the
// payload "id" field, which is what callers see and filter on.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger
}

// NewQdrantStore connects to Qdrant and checks its health.
func NewQdrantStore(cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey.Value(),
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	logger.Info(ctx, "connecting to qdrant",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
		logging.Secret("api_key", cfg.APIKey),
	)
	if !cfg.UseTLS && cfg.APIKey.IsSet() {
		logger.Warn(ctx, "qdrant api key sent over plaintext gRPC")
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s := &QdrantStore{client: client, config: cfg, logger: logger}
	if err := s.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed", zap.Error(err))
		return nil, err
	}
	return s, nil
}

// Health pings the server.
func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Health")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return s.fail(span, "health check", err)
	}
	return nil
}

// EnsureCollection creates the collection when it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dims int, cfg CollectionConfig) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("dims", dims),
	))
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidRequest)
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return s.fail(span, "checking collection "+name, err)
	}
	if exists {
		span.SetAttributes(attribute.Bool("created", false))
		return nil
	}

	err = s.client.CreateCollection(ctx, createCollectionRequest(name, dims, cfg))
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrCollectionExists) {
			// Lost a creation race, which is the outcome we wanted.
			return nil
		}
		return s.fail(span, "creating collection "+name, err)
	}

	span.SetAttributes(attribute.Bool("created", true))
	s.logger.Info(ctx, "created collection",
		zap.String("collection", name),
		zap.Int("dims", dims),
		zap.String("distance", string(cfg.Distance)),
	)
	return nil
}

func createCollectionRequest(name string, dims int, cfg CollectionConfig) *qdrant.CreateCollection {
	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrantDistance(cfg.Distance),
		}),
	}
	if cfg.ShardNumber > 0 {
		req.ShardNumber = qdrant.PtrOf(uint32(cfg.ShardNumber))
	}
	if cfg.ReplicationFactor > 0 {
		req.ReplicationFactor = qdrant.PtrOf(uint32(cfg.ReplicationFactor))
	}
	if cfg.HNSW.M > 0 || cfg.HNSW.EfConstruct > 0 || cfg.HNSW.OnDisk {
		hnsw := &qdrant.HnswConfigDiff{OnDisk: qdrant.PtrOf(cfg.HNSW.OnDisk)}
		if cfg.HNSW.M > 0 {
			hnsw.M = qdrant.PtrOf(uint64(cfg.HNSW.M))
		}
		if cfg.HNSW.EfConstruct > 0 {
			hnsw.EfConstruct = qdrant.PtrOf(uint64(cfg.HNSW.EfConstruct))
		}
		req.HnswConfig = hnsw
	}
	if cfg.Quantization.Enabled {
		scalar := &qdrant.ScalarQuantization{
			Type:      qdrant.QuantizationType_Int8,
			AlwaysRam: qdrant.PtrOf(true),
		}
		if cfg.Quantization.Quantile > 0 {
			scalar.Quantile = qdrant.PtrOf(cfg.Quantization.Quantile)
		}
		req.QuantizationConfig = qdrant.NewQuantizationScalar(scalar)
	}
	return req
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceManhattan:
		return qdrant.Distance_Manhattan
	}
	return qdrant.Distance_Cosine
}

// Upsert writes points and waits for Qdrant to apply them.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("points", len(points)),
	))
	defer span.End()

	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qp, err := toQdrantPoint(p)
		if err != nil {
			return fmt.Errorf("%w: point %s: %v", ErrInvalidRequest, p.ID, err)
		}
		qpoints = append(qpoints, qp)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qpoints,
	})
	if err != nil {
		return s.fail(span, "upserting into "+collection, err)
	}
	return nil
}

// Retrieve fetches points by id. Ids that do not exist are skipped.
func (s *QdrantStore) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Retrieve", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	))
	defer span.End()

	if len(ids) == 0 {
		return []Point{}, nil
	}
	res, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            toPointIDs(ids),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVector),
	})
	if err != nil {
		return nil, s.fail(span, "retrieving from "+collection, err)
	}

	out := make([]Point, 0, len(res))
	for _, rp := range res {
		out = append(out, fromQdrant(rp.GetId(), rp.GetPayload(), rp.GetVectors()))
	}
	return out, nil
}

// Search runs a filtered nearest-neighbour query.
func (s *QdrantStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidRequest)
	}
	if req.Limit <= 0 {
		return []ScoredPoint{}, nil
	}

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Filter:         toQdrantFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		ScoreThreshold: req.ScoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(req.WithVector),
	})
	if err != nil {
		return nil, s.fail(span, "searching "+collection, err)
	}

	out := make([]ScoredPoint, 0, len(res))
	for _, sp := range res {
		out = append(out, ScoredPoint{
			Point: fromQdrant(sp.GetId(), sp.GetPayload(), sp.GetVectors()),
			Score: sp.GetScore(),
		})
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Scroll pages through points. The offset token is a Qdrant point id.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Scroll", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = 256
	}
	sreq := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(req.WithVector),
	}
	if req.Offset != "" {
		sreq.Offset = qdrant.NewIDUUID(req.Offset)
	}

	res, next, err := s.client.ScrollAndOffset(ctx, sreq)
	if err != nil {
		return nil, "", s.fail(span, "scrolling "+collection, err)
	}

	out := make([]Point, 0, len(res))
	for _, rp := range res {
		out = append(out, fromQdrant(rp.GetId(), rp.GetPayload(), rp.GetVectors()))
	}
	return out, next.GetUuid(), nil
}

// Delete removes points by id.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Delete", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	))
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: toPointIDs(ids)},
			},
		},
	})
	if err != nil {
		return s.fail(span, "deleting from "+collection, err)
	}
	return nil
}

// DeleteByFilter removes every point matching filter. An empty filter is
// rejected rather than wiping the collection.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByFilter", trace.WithAttributes(
		attribute.String("collection", collection),
	))
	defer span.End()

	if filter.IsEmpty() {
		return fmt.Errorf("%w: delete by empty filter", ErrInvalidRequest)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: toQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return s.fail(span, "deleting by filter from "+collection, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// fail classifies err, records it on the span and adds context.
func (s *QdrantStore) fail(span trace.Span, what string, err error) error {
	err = classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%s: %w", what, err)
}

// classify maps gRPC status codes onto the package's sentinel errors. The
// original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		return err
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	case grpccodes.Unauthenticated, grpccodes.PermissionDenied:
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case grpccodes.AlreadyExists:
		return fmt.Errorf("%w: %w", ErrCollectionExists, err)
	case grpccodes.NotFound:
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, err)
	case grpccodes.InvalidArgument:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}

// pointUUID returns id itself when it is a UUID, otherwise a UUIDv5 of it.
func pointUUID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func toPointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDUUID(pointUUID(id))
	}
	return out
}

func toQdrantPoint(p Point) (*qdrant.PointStruct, error) {
	if p.ID == "" {
		return nil, errors.New("empty id")
	}
	payload := make(map[string]any, len(p.Payload)+1)
	for k, v := range p.Payload {
		payload[k] = v
	}
	payload[payloadIDField] = p.ID

	values, err := toQdrantPayload(payload)
	if err != nil {
		return nil, err
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointUUID(p.ID)),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: values,
	}, nil
}

// toQdrantPayload converts a payload. Types the client cannot encode
// directly (typed slices, string maps, structs) go through a JSON round
// trip first.
func toQdrantPayload(payload map[string]any) (map[string]*qdrant.Value, error) {
	values, err := qdrant.TryValueMap(payload)
	if err == nil {
		return values, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return qdrant.TryValueMap(generic)
}

func fromQdrant(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) Point {
	p := Point{Payload: fromQdrantPayload(payload)}
	if domainID, ok := p.Payload[payloadIDField].(string); ok && domainID != "" {
		p.ID = domainID
	} else {
		p.ID = id.GetUuid()
	}
	if dense := vectors.GetVector().GetDenseVector(); dense != nil {
		p.Vector = dense.GetData()
	}
	return p
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromQdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return fromQdrantPayload(val.StructValue.GetFields())
	}
	return nil
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	return &qdrant.Filter{
		Must:    toQdrantConditions(f.Must),
		Should:  toQdrantConditions(f.Should),
		MustNot: toQdrantConditions(f.MustNot),
	}
}

func toQdrantConditions(conds []Condition) []*qdrant.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		if c.Filter != nil {
			out = append(out, qdrant.NewFilterAsCondition(toQdrantFilter(c.Filter)))
			continue
		}
		out = append(out, toQdrantMatch(c.Key, c.Value))
	}
	return out
}

func toQdrantMatch(key string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case bool:
		return qdrant.NewMatchBool(key, v)
	case int:
		return qdrant.NewMatchInt(key, int64(v))
	case int64:
		return qdrant.NewMatchInt(key, v)
	case string:
		return qdrant.NewMatchKeyword(key, v)
	}
	return qdrant.NewMatchKeyword(key, fmt.Sprint(value))
}

var _ Store = (*QdrantStore)(nil)
