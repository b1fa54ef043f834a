package artifact

import (
    "bytes"
    "context"
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "crypto/sha256"
    "fmt"
    "io"
    "os"
    "path/filepath"

    "github.com/aws/aws-sdk-go-v2/aws"
    awscfg "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/credentials"
    "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    "github.com/rs/zerolog/log"
    "golang.org/x/crypto/pbkdf2"
)

// Mirror keeps off-host copies of converted artifacts in an S3 bucket for the
// lifetime of their retention window. Mirroring is best-effort: failures are
// logged and never surface to the upload request, and cleanup removes the
// mirrored object alongside the local file.
type Mirror struct {
    client     *s3.Client
    uploader   *manager.Uploader
    bucket     string
    passphrase string // non-empty enables AES-GCM sealing of mirrored payloads
}

// MirrorOptions configures the S3 mirror. AccessKey/SecretKey empty means the
// default AWS credential chain.
type MirrorOptions struct {
    Bucket     string
    Region     string
    AccessKey  string
    SecretKey  string
    Passphrase string
}

func NewMirror(ctx context.Context, opts MirrorOptions) (*Mirror, error) {
    if opts.Bucket == "" { return nil, fmt.Errorf("mirror bucket not set") }
    loadOpts := []func(*awscfg.LoadOptions) error{}
    if opts.Region != "" { loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region)) }
    if opts.AccessKey != "" && opts.SecretKey != "" {
        loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
            credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
    }
    cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
    if err != nil { return nil, fmt.Errorf("load aws config: %w", err) }
    cli := s3.NewFromConfig(cfg)
    return &Mirror{
        client:     cli,
        uploader:   manager.NewUploader(cli),
        bucket:     opts.Bucket,
        passphrase: opts.Passphrase,
    }, nil
}

// Put copies the local artifact at path into the bucket keyed by its base name.
func (m *Mirror) Put(ctx context.Context, path string) error {
    data, err := os.ReadFile(path)
    if err != nil { return fmt.Errorf("read artifact: %w", err) }
    if m.passphrase != "" {
        if data, err = seal(data, m.passphrase); err != nil {
            return fmt.Errorf("seal artifact: %w", err)
        }
    }
    key := filepath.Base(path)
    _, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
        Bucket: aws.String(m.bucket),
        Key:    aws.String(key),
        Body:   bytes.NewReader(data),
    })
    if err != nil { return fmt.Errorf("mirror upload: %w", err) }
    log.Debug().Str("bucket", m.bucket).Str("key", key).Int("size", len(data)).Msg("mirrored artifact to s3")
    return nil
}

// Fetch downloads and, when sealed, opens a mirrored artifact.
func (m *Mirror) Fetch(ctx context.Context, name string) ([]byte, error) {
    out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
        Bucket: aws.String(m.bucket),
        Key:    aws.String(name),
    })
    if err != nil { return nil, fmt.Errorf("mirror get: %w", err) }
    defer out.Body.Close()
    data, err := io.ReadAll(out.Body)
    if err != nil { return nil, fmt.Errorf("mirror read: %w", err) }
    if m.passphrase != "" {
        if data, err = open(data, m.passphrase); err != nil {
            return nil, fmt.Errorf("open sealed artifact: %w", err)
        }
    }
    return data, nil
}

// Delete removes the mirrored copy. S3 DeleteObject on a missing key succeeds,
// which matches the idempotent cleanup contract.
func (m *Mirror) Delete(ctx context.Context, path string) error {
    key := filepath.Base(path)
    _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
        Bucket: aws.String(m.bucket),
        Key:    aws.String(key),
    })
    if err != nil { return fmt.Errorf("mirror delete: %w", err) }
    return nil
}

const pbkdf2Iters = 100000

// seal encrypts data with AES-GCM under a PBKDF2-derived key.
// Layout: salt(16) + nonce(12) + ciphertext-with-tag.
func seal(data []byte, passphrase string) ([]byte, error) {
    salt := make([]byte, 16)
    if _, err := io.ReadFull(rand.Reader, salt); err != nil { return nil, err }
    key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, 32, sha256.New)
    block, err := aes.NewCipher(key)
    if err != nil { return nil, err }
    gcm, err := cipher.NewGCM(block)
    if err != nil { return nil, err }
    nonce := make([]byte, gcm.NonceSize())
    if _, err := io.ReadFull(rand.Reader, nonce); err != nil { return nil, err }
    out := make([]byte, 0, len(salt)+len(nonce)+len(data)+gcm.Overhead())
    out = append(out, salt...)
    out = append(out, nonce...)
    return gcm.Seal(out, nonce, data, nil), nil
}

// open reverses seal.
func open(data []byte, passphrase string) ([]byte, error) {
    if len(data) < 16+12 { return nil, fmt.Errorf("sealed data too short: %d bytes", len(data)) }
    salt, nonce, ciphertext := data[:16], data[16:28], data[28:]
    key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, 32, sha256.New)
    block, err := aes.NewCipher(key)
    if err != nil { return nil, err }
    gcm, err := cipher.NewGCM(block)
    if err != nil { return nil, err }
    return gcm.Open(nil, nonce, ciphertext, nil)
}
