package flashloan

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// RouteDefinitions models the structure of configs/routes.yaml.
type RouteDefinitions struct {
	Routes map[string]RouteDefinition `yaml:"routes"`
}

// RouteDefinition binds one leveraged route to a secondary protocol adapter.
type RouteDefinition struct {
	Type        string `yaml:"type"`
	Adapter     string `yaml:"adapter"`
	Description string `yaml:"description"`
}

// LoadRouteDefinitions parses the YAML file containing route bindings.
func LoadRouteDefinitions(path string) (RouteDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return RouteDefinitions{Routes: map[string]RouteDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return RouteDefinitions{}, fmt.Errorf("读取路由配置失败: %w", err)
	}

	var defs RouteDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return RouteDefinitions{}, fmt.Errorf("解析路由配置失败: %w", err)
	}
	if defs.Routes == nil {
		defs.Routes = map[string]RouteDefinition{}
	}
	return defs, nil
}

// BuildResolver instantiates adapters for every defined route and binds them
// to a fresh resolver. The direct route needs no definition.
func BuildResolver(defs RouteDefinitions, bridge common.Address, exec Executor) (*Resolver, error) {
	resolver := NewResolver(bridge)
	for name, def := range defs.Routes {
		route, err := ParseRoute(name)
		if err != nil {
			return nil, err
		}
		if route == RouteDirect {
			return nil, fmt.Errorf("直借路由无需绑定适配器")
		}

		target := common.HexToAddress(def.Adapter)
		var adapter ProtocolAdapter
		switch strings.ToLower(strings.TrimSpace(def.Type)) {
		case "vault":
			adapter, err = NewVaultAdapter(target, exec)
		case "lending_pool", "":
			adapter, err = NewLendingPoolAdapter(target, exec)
		default:
			return nil, fmt.Errorf("路由 %s 使用了不支持的协议类型 %s", name, def.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("初始化路由 %s 失败: %w", name, err)
		}
		resolver.Bind(route, adapter)
	}
	return resolver, nil
}
