// Package config 提供编译器选项
//
// 选项从 TOML 文件加载，环境变量可以逐项覆盖，
// 得到的值按需传入各个 pass 的构造函数，不做全局状态。

package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/xyproto/env/v2"
)

// 常量定义
const (
	ConfigFileName = "indigo.toml" // 配置文件名
)

// Options 编译器选项
type Options struct {
	InFile  string `toml:"in_file"`
	OutFile string `toml:"out_file"`

	// Verbose 输出各 pass 的详细日志
	Verbose bool `toml:"verbose"`

	// AllowConditionalExec 允许生成条件执行指令
	AllowConditionalExec bool `toml:"allow_conditional_exec"`

	// ShowCodeAfterEachPass 每个 pass 之后输出当前代码
	ShowCodeAfterEachPass bool `toml:"show_code_after_each_pass"`

	// DryRun 只运行 pass 不写出结果
	DryRun bool `toml:"dry_run"`

	// RunPass 只运行列出的 pass；空表示全部
	RunPass []string `toml:"run_pass"`

	// SkipPass 跳过列出的 pass
	SkipPass []string `toml:"skip_pass"`
}

// Default 返回默认选项
func Default() *Options {
	return &Options{
		AllowConditionalExec: true,
	}
}

// Load 从文件加载选项，再应用环境变量覆盖
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	opts := Default()
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	opts.applyEnv()
	return opts, nil
}

// applyEnv 应用环境变量覆盖（INDIGO_ 前缀）
func (o *Options) applyEnv() {
	env.Load()
	if env.Has("INDIGO_VERBOSE") {
		o.Verbose = env.Bool("INDIGO_VERBOSE")
	}
	if env.Has("INDIGO_SHOW_CODE") {
		o.ShowCodeAfterEachPass = env.Bool("INDIGO_SHOW_CODE")
	}
	if env.Has("INDIGO_DRY_RUN") {
		o.DryRun = env.Bool("INDIGO_DRY_RUN")
	}
	o.InFile = env.Str("INDIGO_IN_FILE", o.InFile)
	o.OutFile = env.Str("INDIGO_OUT_FILE", o.OutFile)
}

// ShouldRun 判断一个 pass 是否应该运行
func (o *Options) ShouldRun(name string) bool {
	for _, p := range o.SkipPass {
		if p == name {
			return false
		}
	}
	if len(o.RunPass) == 0 {
		return true
	}
	for _, p := range o.RunPass {
		if p == name {
			return true
		}
	}
	return false
}

// Save 保存选项到文件
func (o *Options) Save(path string) error {
	data, err := toml.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
