// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"agentgov/shared/types"
)

// S3Archiver exports evicted audit entries to an S3 bucket, one object
// per entry keyed by entry id, so high-volume deployments retain evicted
// entries beyond the in-memory FIFO's bound without making the archive a
// durability guarantee for the live log itself.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver against an already-configured S3 client.
func NewS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archiver) Archive(ctx context.Context, entry types.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s.json", a.prefix, entry.EntryID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

// GCSArchiver is the Google Cloud Storage equivalent of S3Archiver,
// exercising the same Archiver contract against a different backend.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver builds an archiver against an already-configured GCS client.
func NewGCSArchiver(client *storage.Client, bucket, prefix string) *GCSArchiver {
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}
}

func (a *GCSArchiver) Archive(ctx context.Context, entry types.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	object := fmt.Sprintf("%s%s.json", a.prefix, entry.EntryID)
	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
