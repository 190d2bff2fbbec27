// Package loader 把语料目录导入为可检索片段。
//
// 目录约定：一级子目录名即数据集 ID，根目录下的文件归入默认数据集。
// 按扩展名路由到对应的 Loader：
//   - 纯文本 (.txt)
//   - Markdown (.md)，按标题切分为多个文档
//   - CSV (.csv)，每行一个文档
//   - JSON / JSONL (.json, .jsonl)
//   - HTML (.html, .htm)，只取可见文本
//
// 文档再经 Chunker 按 token 窗口切分，可选地通过 rag.Embedder 生成向量：
//
//	frags, err := loader.Ingest(ctx, "/srv/corpus", loader.IngestOptions{
//	    Chunker:  loader.NewChunker(tok, 400, 40),
//	    Embedder: embedder,
//	})
//	index.Add(frags...)
package loader
