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

package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	agerrors "agentgov/shared/errors"
)

// mongoDoc is the single-collection-per-store document shape, mirroring
// the (key, data, created_at, updated_at) relational schema in document
// form so List-by-prefix and upsert semantics stay identical across
// backends.
type mongoDoc struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore is the document-store-backed Store variant, selected when
// DATABASE_URL uses the mongodb:// scheme.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri and binds to database.collection.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &agerrors.StoreWriteError{Cause: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &agerrors.StoreWriteError{Cause: err}
	}
	return &MongoStore{client: client, coll: client.Database(database).Collection(collection)}, nil
}

func (s *MongoStore) Put(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC()
	filter := bson.M{"_id": key}
	update := bson.M{
		"$set":         bson.M{"data": value, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return wrapWrite(err)
}

func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapRead(err)
	}
	return doc.Data, true, nil
}

func (s *MongoStore) List(ctx context.Context, prefix string) ([][]byte, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexQuoteMeta(prefix)}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, wrapRead(err)
	}
	defer cur.Close(ctx)

	out := make([][]byte, 0)
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, wrapRead(err)
		}
		out = append(out, doc.Data)
	}
	return out, wrapRead(cur.Err())
}

func (s *MongoStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, wrapWrite(err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return false, wrapRead(err)
	}
	return n > 0, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func regexQuoteMeta(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		for _, sp := range []byte(special) {
			if c == sp {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, c)
	}
	return string(out)
}
