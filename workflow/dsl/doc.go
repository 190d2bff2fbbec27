// Package dsl 解析 YAML/JSON 声明式工作流定义文件，
// 支持 ${var} 静态插值、next 简写边与条件分支，
// 输出经过结构校验的 workflow.Definition。
package dsl
