// 地图数据源：本地文件、MongoDB、Neo4j
// 只负责读取，校验由network.Load完成
package mapsource

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"git.fiblab.net/sim/traffic/network"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFile 按扩展名解析JSON或YAML地图文件
func LoadFile(path string) (*network.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "File read")
	}
	m, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "Can't decode map file %s", path)
	}
	log.Infof("map read from %s: %d nodes, %d edges", path, len(m.Nodes), len(m.Edges))
	return m, nil
}

// Decode ext为".yaml"或".yml"时按YAML解析，否则按JSON解析
func Decode(data []byte, ext string) (*network.Map, error) {
	m := &network.Map{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, errors.Wrap(err, "YAML")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(m); err != nil {
			return nil, errors.Wrap(err, "JSON")
		}
	}
	return m, nil
}
