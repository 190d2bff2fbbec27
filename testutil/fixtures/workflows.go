// =============================================================================
// 📦 测试数据工厂 - 工作流定义与检索语料
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/workflow"
)

// BranchingDefinition 返回 A→B→C→D→E 且 C 带默认边 →F 的定义。
// 当 score > 0.5 时走 C→D，F 被跳过。
func BranchingDefinition(id string) *workflow.Definition {
	return workflow.NewBuilder(id).
		Node("A", workflow.KindStart).Done().
		Node("B", workflow.KindFunction).
		Param("op", "literal").
		Param("value", map[string]any{"score": 0.9}).
		Done().
		Node("C", workflow.KindCondition).Done().
		Node("D", workflow.KindFunction).
		Param("op", "template").
		Param("template", "high {{B.output.score}}").
		Done().
		Node("E", workflow.KindEnd).Done().
		Node("F", workflow.KindEnd).Done().
		Edge("A", "B").
		Edge("B", "C").
		GuardedEdge("C", "D", "B.output.score > 0.5").
		Edge("C", "F").
		Edge("D", "E").
		MustBuild()
}

// TriageDefinition 返回 A(检索)→B(对话)→C(条件)→D→E，C 带默认边 →F 的定义。
// B 的输出包含 "urgent" 时走 C→D。
func TriageDefinition(id string) *workflow.Definition {
	return workflow.NewBuilder(id).
		Node("A", workflow.KindRetrieval).
		Param("query", "{{question}}").
		Param("mode", "semantic").
		Param("similarity_threshold", 0.3).
		Done().
		Node("B", workflow.KindAIChat).
		Param("system", "Sources:\n{{context}}").
		Param("prompt", "How urgent is this? {{question}}").
		Param("context_node", "A").
		Done().
		Node("C", workflow.KindCondition).Done().
		Node("D", workflow.KindFunction).
		Param("op", "template").
		Param("template", "escalate: {{B.output}}").
		Done().
		Node("E", workflow.KindEnd).Done().
		Node("F", workflow.KindEnd).Done().
		Edge("A", "B").
		Edge("B", "C").
		GuardedEdge("C", "D", `B.output contains "urgent"`).
		Edge("C", "F").
		Edge("D", "E").
		MustBuild()
}

// RetrievalOnlyDefinition 返回 start → retrieval → end 的定义。
func RetrievalOnlyDefinition(id string) *workflow.Definition {
	return workflow.NewBuilder(id).
		Node("start", workflow.KindStart).Done().
		Node("search", workflow.KindRetrieval).
		Param("query", "{{question}}").
		Param("mode", "hybrid").
		Done().
		Node("end", workflow.KindEnd).Done().
		Edge("start", "search").
		Edge("search", "end").
		MustBuild()
}

// RAGDefinition 返回 start → retrieval → ai_chat → end 的定义。
func RAGDefinition(id string) *workflow.Definition {
	return workflow.NewBuilder(id).
		Node("start", workflow.KindStart).Done().
		Node("search", workflow.KindRetrieval).
		Param("query", "{{question}}").
		Param("similarity_threshold", 0.0).
		Done().
		Node("answer", workflow.KindAIChat).
		Param("system", "Answer using the sources.\n{{context}}").
		Param("prompt", "{{question}}").
		Param("context_node", "search").
		Done().
		Node("end", workflow.KindEnd).Done().
		Edge("start", "search").
		Edge("search", "answer").
		Edge("answer", "end").
		MustBuild()
}

// CorpusVectorHits 是固定的向量候选
func CorpusVectorHits() []rag.Hit {
	return []rag.Hit{
		{FragmentID: "f1", DocumentID: "doc-go", DatasetID: "ds1", Text: "Go channels move values between goroutines.", Score: 0.92},
		{FragmentID: "f2", DocumentID: "doc-go", DatasetID: "ds1", Text: "A select statement waits on several channels.", Score: 0.81},
		{FragmentID: "f3", DocumentID: "doc-db", DatasetID: "ds2", Text: "Indexes speed up lookups.", Score: 0.40},
	}
}

// CorpusKeywordHits 是固定的关键词候选
func CorpusKeywordHits() []rag.Hit {
	return []rag.Hit{
		{FragmentID: "f2", DocumentID: "doc-go", DatasetID: "ds1", Text: "A select statement waits on several channels.", Score: 0.9},
		{FragmentID: "f1", DocumentID: "doc-go", DatasetID: "ds1", Text: "Go channels move values between goroutines.", Score: 0.6},
		{FragmentID: "f4", DocumentID: "doc-net", DatasetID: "ds1", Text: "TCP keeps a byte stream ordered.", Score: 0.2},
	}
}
