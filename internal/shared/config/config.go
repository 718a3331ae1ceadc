package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"tc_eqpsim/internal/shared/types"
)

// LoadIni 加载 eqpsim.ini 进程配置文件。文件中没有的键保留 cfg 里已有的值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.WebConf.WebPort, "EQPSIM_WEB_PORT")
	overrideFromEnvString(&cfg.SimConf.Topology, "EQPSIM_TOPOLOGY")
	return nil
}

// ResolvePath 把相对路径拼到 baseDir 上，绝对路径原样返回。
func ResolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// LoadTopology 读取 topology.yaml，并把相对的 scenarioFile 解析为相对 yaml 所在目录的路径。
func LoadTopology(fileName string) (*types.Topology, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	topo, err := ParseTopology(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse topology file %s: %w", fileName, err)
	}

	baseDir := filepath.Dir(fileName)
	topo.SetBaseDir(baseDir)
	for id, p := range topo.Profiles {
		p.ScenarioFile = ResolvePath(baseDir, strings.TrimSpace(p.ScenarioFile))
		topo.Profiles[id] = p
	}
	return topo, nil
}

// ParseTopology 解析 topology yaml，并统一枚举值的大小写。
func ParseTopology(data []byte) (*types.Topology, error) {
	var topo types.Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, err
	}

	for id, st := range topo.SocketTypes {
		st.Kind = types.SocketKind(strings.ToUpper(strings.TrimSpace(string(st.Kind))))
		st.LineEnding = types.LineEnding(strings.ToUpper(strings.TrimSpace(string(st.LineEnding))))
		topo.SocketTypes[id] = st
	}
	for id, p := range topo.Profiles {
		p.Type = types.ProfileType(strings.ToUpper(strings.TrimSpace(string(p.Type))))
		topo.Profiles[id] = p
	}
	for id, e := range topo.Eqps {
		e.Mode = types.EqpMode(strings.ToUpper(strings.TrimSpace(string(e.Mode))))
		topo.Eqps[id] = e
	}
	return &topo, nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
