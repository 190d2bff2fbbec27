/*
Package expr 实现 CONDITION 节点守卫使用的受限表达式语言。

语法只包含字面量（数字、字符串、true/false/null）、点号字段访问、
比较运算（== != > < >= <=）、成员运算（contains、in、startsWith、endsWith）
以及布尔组合（&& || !）。没有函数调用、赋值或任意代码执行。

表达式先经 Compile 编译为语法树，可在发布时校验语法；Eval 在运行时
对变量求值。引用未定义变量时返回 *UndefinedVariableError。
表达式长度与嵌套深度均有上限，最坏求值时间与表达式长度线性相关。
*/
package expr
