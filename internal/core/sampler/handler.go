package sampler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"market-depth-engine/internal/core/model"
)

// HistoryHandler 以 JSON 数组返回单个订单簿的采样历史（从旧到新）
// GET ?market=binance&pair=BTCUSDT[&limit=N]，limit 只保留最近 N 条
func (s *Sampler) HistoryHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		market := strings.ToLower(strings.TrimSpace(q.Get("market")))
		pair := strings.ToUpper(strings.TrimSpace(q.Get("pair")))
		if market == "" || pair == "" {
			http.Error(w, "缺少 market 或 pair 参数", http.StatusBadRequest)
			return
		}

		h := s.History(market, pair)
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit 必须为正整数", http.StatusBadRequest)
				return
			}
			if n < len(h) {
				h = h[len(h)-n:]
			}
		}
		if h == nil {
			h = []model.DepthSample{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h); err != nil {
			s.logger.Debug("写入采样历史响应失败", zap.Error(err))
		}
	})
}
