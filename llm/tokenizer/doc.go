// Package tokenizer 提供统一的 Token 计数与截断接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于检索上下文的 Token 预算管理。
//
// tiktoken 编码表在首次使用时加载，失败时 [FallbackTokenizer] 自动退化为估算器。
package tokenizer
