// Package config 提供 KnowFlow 的配置结构与加载器。
//
// 加载顺序为 默认值 → YAML 文件 → KNOWFLOW_ 前缀环境变量，
// 最后由 Config.Validate 一次性收集全部错误。
package config
