package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"git.fiblab.net/sim/traffic/mapsource"
	"git.fiblab.net/sim/traffic/network"
)

var neo4jSchemes = []string{"neo4j://", "neo4j+s://", "neo4j+ssc://", "bolt://", "bolt+s://", "bolt+ssc://"}

// Path 地图来源：本地文件、Neo4j地址或MongoDB的db.coll
type Path struct {
	File  string
	Neo4j string
	DB    string
	Coll  string
}

func NewPath(source string) (*Path, error) {
	// 检查source是否作为文件存在
	if _, err := os.Stat(source); err == nil {
		return &Path{
			File: source,
		}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	for _, scheme := range neo4jSchemes {
		if strings.HasPrefix(source, scheme) {
			return &Path{Neo4j: source}, nil
		}
	}
	splitted := strings.Split(source, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("map source is neither a file, a neo4j uri nor {db}.{col}: %s", source)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

func (p *Path) String() string {
	switch {
	case p.File != "":
		return p.File
	case p.Neo4j != "":
		return p.Neo4j
	default:
		return p.DB + "." + p.Coll
	}
}

type sourceOptions struct {
	mongoURI      string
	neo4jUser     string
	neo4jPassword string
}

// 读取地图数据，校验交给Simulator.LoadMap
func (p *Path) Load(ctx context.Context, opts sourceOptions) (*network.Map, error) {
	switch {
	case p.File != "":
		return mapsource.LoadFile(p.File)
	case p.Neo4j != "":
		return mapsource.LoadNeo4j(ctx, p.Neo4j, opts.neo4jUser, opts.neo4jPassword)
	default:
		if opts.mongoURI == "" {
			return nil, fmt.Errorf("mongo uri is required for map source %s", p)
		}
		return mapsource.LoadMongo(ctx, opts.mongoURI, p.DB, p.Coll)
	}
}
