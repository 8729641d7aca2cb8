package rag

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TiktokenCounter 返回按模型编码统计 token 的函数。
// 编码表首次使用时加载，加载失败则退回粗略估算。
func TiktokenCounter(model string, logger *zap.Logger) func(string) int {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		once sync.Once
		tkm  *tiktoken.Tiktoken
	)
	load := func() {
		var err error
		tkm, err = tiktoken.EncodingForModel(model)
		if err != nil {
			tkm, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			logger.Warn("加载 tiktoken 编码失败，使用估算值", zap.String("model", model), zap.Error(err))
			tkm = nil
		}
	}

	return func(text string) int {
		once.Do(load)
		if tkm == nil {
			return estimateTokenCount(text)
		}
		return len(tkm.Encode(text, nil, nil))
	}
}
