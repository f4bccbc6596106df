package mapsource

import (
	"context"

	"git.fiblab.net/sim/traffic/network"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CLASS_NODE = "node"
	CLASS_EDGE = "edge"
)

// 集合中的一条文档：{class: "node"|"edge", data: {...}}
type mongoDoc struct {
	Class string   `bson:"class"`
	Data  bson.Raw `bson:"data"`
}

// LoadMongo 从db.coll读取地图
func LoadMongo(ctx context.Context, uri, db, coll string) (*network.Map, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "Mongo connect")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warnf("mongo disconnect: %v", err)
		}
	}()
	return ReadMongo(ctx, client.Database(db).Collection(coll))
}

func ReadMongo(ctx context.Context, coll *mongo.Collection) (*network.Map, error) {
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't query %s", coll.Name())
	}
	var docs []mongoDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "Can't read documents of %s", coll.Name())
	}
	m, err := decodeDocs(docs)
	if err != nil {
		return nil, errors.Wrapf(err, "Collection %s", coll.Name())
	}
	log.Infof("map read from mongo collection %s: %d nodes, %d edges", coll.Name(), len(m.Nodes), len(m.Edges))
	return m, nil
}

func decodeDocs(docs []mongoDoc) (*network.Map, error) {
	m := &network.Map{}
	for i, doc := range docs {
		switch doc.Class {
		case CLASS_NODE:
			var node network.IntersectionSpec
			if err := bson.Unmarshal(doc.Data, &node); err != nil {
				return nil, errors.Wrapf(err, "Document %d", i)
			}
			m.Nodes = append(m.Nodes, node)
		case CLASS_EDGE:
			var edge network.RoadSpec
			if err := bson.Unmarshal(doc.Data, &edge); err != nil {
				return nil, errors.Wrapf(err, "Document %d", i)
			}
			m.Edges = append(m.Edges, edge)
		default:
			log.Debugf("skip document %d with class %q", i, doc.Class)
		}
	}
	return m, nil
}
