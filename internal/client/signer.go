package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// UnsignedPayload is the SigV4 payload hash for a body the signature does
// not cover.
const UnsignedPayload = "UNSIGNED-PAYLOAD"

// ErrSigning wraps every failure to sign an origin request.
var ErrSigning = errors.New("signer: cannot sign origin request")

// Signer applies SigV4 to origin requests, the way the CDN's origin access
// control signs calls to a Lambda Function URL.
type Signer struct {
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	service string
	region  string
	now     func() time.Time
}

// NewSigner creates a Signer for service in region.
func NewSigner(creds aws.CredentialsProvider, service, region string) (*Signer, error) {
	if creds == nil {
		return nil, errors.New("signer: credentials provider must not be nil")
	}
	service = strings.TrimSpace(service)
	region = strings.TrimSpace(region)
	if service == "" || region == "" {
		return nil, errors.New("signer: service and region are required")
	}
	return &Signer{
		creds:   creds,
		signer:  v4.NewSigner(),
		service: service,
		region:  region,
		now:     time.Now,
	}, nil
}

// Sign adds SigV4 authorization headers to req. payloadHash is the lowercase
// hex SHA-256 of the body and is covered by the signature.
func (s *Signer) Sign(ctx context.Context, req *http.Request, payloadHash string) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("%w: retrieve credentials: %w", ErrSigning, err)
	}
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, s.service, s.region, s.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return nil
}

// PayloadHash returns the lowercase hex SHA-256 of body.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
