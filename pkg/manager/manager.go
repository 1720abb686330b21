package manager

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
)

// Resource 外部资源（数据库、缓存、对象存储、消息队列）
type Resource interface {
	MustOpen()
	Close()
}

// ResourcePlugin creates a resource for registration.
type ResourcePlugin interface {
	Name() string
	MustCreateResource() Resource
}

// Component 可启动/停止的业务组件
type Component interface {
	Start() error
	Stop() error
	GetName() string
}

// ComponentPlugin creates a component from assembled dependencies.
type ComponentPlugin interface {
	Name() string
	MustCreateComponent(deps *Dependencies) Component
}

// Dependencies 依赖注入容器
//
// Application-layer values are held as interface{} so this package stays free of ddd imports;
// plugins assert the concrete interface they need.
type Dependencies struct {
	DB         *gorm.DB
	Config     *config.Config
	JobApp     interface{}
	Controller interface{}
	Queue      interface{}
	Completion interface{}
}

type registry struct {
	mu               sync.Mutex
	resourcePlugins  []ResourcePlugin
	resources        []Resource
	componentPlugins []ComponentPlugin
	components       []Component
	disabled         map[string]bool
}

var defaultRegistry = &registry{disabled: map[string]bool{}}

// RegisterResourcePlugin 注册资源插件
func RegisterResourcePlugin(p ResourcePlugin) {
	if p == nil {
		return
	}
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.resourcePlugins = append(defaultRegistry.resourcePlugins, p)
}

// RegisterComponentPlugin 注册组件插件
func RegisterComponentPlugin(p ComponentPlugin) {
	if p == nil {
		return
	}
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.componentPlugins = append(defaultRegistry.componentPlugins, p)
}

// Disable skips the named plugin during initialisation, e.g. kafka when it is switched off.
func Disable(name string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.disabled[name] = true
}

// MustInitResources 打开所有已注册资源，失败时panic
func MustInitResources() {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	for _, p := range defaultRegistry.resourcePlugins {
		if defaultRegistry.disabled[p.Name()] {
			logger.Infof("Resource plugin disabled name=%s", p.Name())
			continue
		}
		r := p.MustCreateResource()
		r.MustOpen()
		defaultRegistry.resources = append(defaultRegistry.resources, r)
		logger.Infof("Resource opened name=%s", p.Name())
	}
}

// CloseResources 逆序关闭资源
func CloseResources() {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	for i := len(defaultRegistry.resources) - 1; i >= 0; i-- {
		defaultRegistry.resources[i].Close()
	}
	defaultRegistry.resources = nil
}

// MustInitComponents 创建并启动所有组件
func MustInitComponents(deps *Dependencies) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	for _, p := range defaultRegistry.componentPlugins {
		if defaultRegistry.disabled[p.Name()] {
			logger.Infof("Component plugin disabled name=%s", p.Name())
			continue
		}
		c := p.MustCreateComponent(deps)
		if err := c.Start(); err != nil {
			panic(fmt.Sprintf("failed to start component %s: %v", c.GetName(), err))
		}
		defaultRegistry.components = append(defaultRegistry.components, c)
		logger.Infof("Component started name=%s", c.GetName())
	}
}

// Shutdown 逆序停止组件
func Shutdown() {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	for i := len(defaultRegistry.components) - 1; i >= 0; i-- {
		c := defaultRegistry.components[i]
		if err := c.Stop(); err != nil {
			logger.Warnf("Component stop failed name=%s error=%v", c.GetName(), err)
		}
	}
	defaultRegistry.components = nil
}
