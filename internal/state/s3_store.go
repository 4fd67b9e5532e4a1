package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/accord-io/accord/internal/ir"
)

// S3Store keeps the state document in an S3 object, with optional
// DynamoDB-based locking. Every mutation is flushed with a PutObject
// before returning, mirroring the local store's durability contract; S3
// object replacement is atomic from the reader's perspective.
type S3Store struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string

	mu        sync.Mutex
	doc       *ir.State
	addrLocks map[string]*sync.Mutex
	lockMu    sync.Mutex
}

// OpenS3 loads (or initializes) the state document from the configured
// bucket and key.
func OpenS3(ctx context.Context, config map[string]string) (*S3Store, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := config["key"]
	if key == "" {
		key = "accord/state.json"
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	s := &S3Store{
		bucket:        bucket,
		key:           key,
		region:        region,
		dynamoDBTable: config["dynamodb_table"],
		encrypt:       config["encrypt"] == "true",
		profile:       config["profile"],
		addrLocks:     make(map[string]*sync.Mutex),
	}

	if err := s.initClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.doc = doc

	return s, nil
}

func (s *S3Store) initClients(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(s.region))
	if s.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	s.s3Client = s3.NewFromConfig(cfg)

	if s.dynamoDBTable != "" {
		s.dbClient = dynamodb.NewFromConfig(cfg)
	}

	return nil
}

func (s *S3Store) load(ctx context.Context) (*ir.State, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			doc := ir.NewState()
			doc.Lineage = uuid.NewString()
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	content := buf.Bytes()

	if IsEncrypted(content) {
		content, err = Decrypt(content)
		if err != nil {
			return nil, &CorruptError{Path: fmt.Sprintf("s3://%s/%s", s.bucket, s.key), Err: err}
		}
	}

	var doc ir.State
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, &CorruptError{Path: fmt.Sprintf("s3://%s/%s", s.bucket, s.key), Err: err}
	}

	migrated, err := migrate(&doc)
	if err != nil {
		return nil, &CorruptError{Path: fmt.Sprintf("s3://%s/%s", s.bucket, s.key), Err: err}
	}
	return migrated, nil
}

func (s *S3Store) addrLock(address string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.addrLocks[address]
	if !ok {
		m = &sync.Mutex{}
		s.addrLocks[address] = m
	}
	return m
}

func (s *S3Store) Read(address string) (*ir.ResourceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.doc.Resources[address]
	return rs, ok
}

func (s *S3Store) All() map[string]*ir.ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*ir.ResourceState, len(s.doc.Resources))
	for addr, rs := range s.doc.Resources {
		out[addr] = rs
	}
	return out
}

func (s *S3Store) Write(address string, rs *ir.ResourceState) error {
	l := s.addrLock(address)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Resources[address] = rs
	s.doc.Serial++
	return s.flushLocked()
}

func (s *S3Store) Delete(address string) error {
	l := s.addrLock(address)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Resources[address]; !ok {
		return nil
	}
	delete(s.doc.Resources, address)
	s.doc.Serial++
	return s.flushLocked()
}

func (s *S3Store) SetOutputs(outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Outputs = outputs
	s.doc.Serial++
	return s.flushLocked()
}

func (s *S3Store) Snapshot() *ir.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.doc
	cp.Resources = make(map[string]*ir.ResourceState, len(s.doc.Resources))
	for addr, rs := range s.doc.Resources {
		r := *rs
		cp.Resources[addr] = &r
	}
	return &cp
}

func (s *S3Store) flushLocked() error {
	content, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	content = append(content, '\n')

	content, err = Encrypt(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(content),
	}
	if s.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.s3Client.PutObject(context.Background(), input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.bucket, s.key, err)
	}

	return nil
}

func (s *S3Store) Lock() error {
	if s.dynamoDBTable == "" {
		return nil // No locking without DynamoDB
	}

	s.lockID = fmt.Sprintf("accord-%d-%s", os.Getpid(), uuid.NewString())

	_, err := s.dbClient.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		if isLockConflict(err) {
			return fmt.Errorf("state is locked by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q", s.key, s.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return nil
}

// isLockConflict reports whether a PutItem failure means another holder
// owns the lock item rather than the call itself failing.
func isLockConflict(err error) bool {
	var checkFailed *dbtypes.ConditionalCheckFailedException
	return errors.As(err, &checkFailed)
}

func (s *S3Store) Unlock() error {
	if s.dynamoDBTable == "" {
		return nil
	}

	_, err := s.dbClient.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}
