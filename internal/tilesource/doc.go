// Package tilesource 聚合把四叉树节点翻译为上游请求地址的适配器，并提供统一的注册入口。
//
// 适配器作者需要：
//  1. 在 internal/tilesource/<type>/ 目录下实现 Source 接口；
//  2. 在 init() 中通过 MustRegister 注册 Metadata（默认投影、默认扩展名、构造函数）；
//  3. 只负责拼接 URI，缓存读写统一交给 cache.Client。
package tilesource
