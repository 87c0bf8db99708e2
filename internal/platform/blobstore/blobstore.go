// Package blobstore stores insurance card images. It defines the Store
// interface, an in-memory implementation for development and tests, and an
// S3 implementation for deployed environments.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the largest card image accepted (10 MB). Phone cameras
// rarely exceed it.
const MaxFileSize = 10 * 1024 * 1024

// AllowedContentTypes lists the image formats the kiosk camera and upload
// form produce.
var AllowedContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// Object describes a stored image.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// CardKey builds the object key for one side ("front" or "back") of a
// patient's insurance card. Each upload gets a fresh key so an earlier
// image is never overwritten in place.
func CardKey(patientID uuid.UUID, side, contentType string) string {
	ext := AllowedContentTypes[contentType]
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("insurance-cards/%s/%s-%s.%s", patientID, side, uuid.New(), ext)
}

// readImage validates contentType, reads content fully and returns it with
// its SHA-256 hex digest.
func readImage(contentType string, content io.Reader) ([]byte, string, error) {
	if _, ok := AllowedContentTypes[contentType]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

type storedObject struct {
	meta Object
	data []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	data, hash, err := readImage(contentType, content)
	if err != nil {
		return nil, err
	}
	meta := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, data: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrObjectNotFound
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.data)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
