package feed

import (
	"encoding/json"
	"strconv"
	"time"
)

// reverseSymbolMap turns a local->exchange symbol config map (the shape
// config.ExchangeConfig.Symbols carries) into exchange-symbol->local-
// symbol, which is the direction every Decoder below needs to route an
// incoming message back to a Route.
func reverseSymbolMap(symbols map[string]string) map[string]string {
	out := make(map[string]string, len(symbols))
	for local, exch := range symbols {
		out[exch] = local
	}
	return out
}

// HyperliquidDecoder parses Hyperliquid's l2Book push
// into a Decoder: one websocket channel carries every subscribed coin's
// two-sided depth update, top-of-book is levels[0][0]/levels[1][0].
func HyperliquidDecoder(symbols map[string]string) Decoder {
	bySym := reverseSymbolMap(symbols)

	type envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	type level struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	}
	type l2Book struct {
		Coin   string    `json:"coin"`
		Time   int64     `json:"time"`
		Levels [][]level `json:"levels"`
	}

	return func(raw []byte) (string, uint64, BBO, bool) {
		var env envelope
		if json.Unmarshal(raw, &env) != nil || env.Channel != "l2Book" {
			return "", 0, BBO{}, false
		}
		var book l2Book
		if json.Unmarshal(env.Data, &book) != nil || len(book.Levels) < 2 {
			return "", 0, BBO{}, false
		}
		local, ok := bySym[book.Coin]
		if !ok {
			return "", 0, BBO{}, false
		}
		bids, asks := book.Levels[0], book.Levels[1]
		if len(bids) == 0 || len(asks) == 0 {
			return "", 0, BBO{}, false
		}
		bidPx, _ := strconv.ParseFloat(bids[0].Px, 64)
		bidSz, _ := strconv.ParseFloat(bids[0].Sz, 64)
		askPx, _ := strconv.ParseFloat(asks[0].Px, 64)
		askSz, _ := strconv.ParseFloat(asks[0].Sz, 64)
		return local, uint64(book.Time) * 1_000_000, BBO{BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz}, true
	}
}

// HyperliquidSubscriptions builds the wsjson-encoded subscribe messages
// WSProducer.Subscribe sends right after connect, one per configured
// coin.
func HyperliquidSubscriptions(symbols map[string]string) []any {
	out := make([]any, 0, len(symbols))
	for _, coin := range symbols {
		out = append(out, map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type": "l2Book",
				"coin": coin,
			},
		})
	}
	return out
}

// LighterDecoder parses Lighter's order_book snapshot/
// update envelope, keyed by a numeric market index embedded in the
// channel name rather than a plain symbol string.
func LighterDecoder(symbols map[string]string) Decoder {
	byIdx := make(map[int]string, len(symbols))
	for local, idxStr := range symbols {
		if idx, err := strconv.Atoi(idxStr); err == nil {
			byIdx[idx] = local
		}
	}

	type level struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	type book struct {
		Bids []level `json:"bids"`
		Asks []level `json:"asks"`
	}
	type envelope struct {
		Type      string          `json:"type"`
		Channel   string          `json:"channel"`
		OrderBook json.RawMessage `json:"order_book"`
		Timestamp int64           `json:"timestamp"`
	}

	return func(raw []byte) (string, uint64, BBO, bool) {
		var env envelope
		if json.Unmarshal(raw, &env) != nil {
			return "", 0, BBO{}, false
		}
		if env.Type != "subscribed/order_book" && env.Type != "update/order_book" {
			return "", 0, BBO{}, false
		}
		var b book
		if json.Unmarshal(env.OrderBook, &b) != nil || len(b.Bids) == 0 || len(b.Asks) == 0 {
			return "", 0, BBO{}, false
		}
		local, ok := byIdx[lighterMarketIndex(env.Channel)]
		if !ok {
			return "", 0, BBO{}, false
		}
		bidPx, _ := strconv.ParseFloat(b.Bids[0].Price, 64)
		bidSz, _ := strconv.ParseFloat(b.Bids[0].Size, 64)
		askPx, _ := strconv.ParseFloat(b.Asks[0].Price, 64)
		askSz, _ := strconv.ParseFloat(b.Asks[0].Size, 64)
		tsNs := uint64(env.Timestamp) * 1_000_000
		if tsNs == 0 {
			tsNs = uint64(time.Now().UnixNano())
		}
		return local, tsNs, BBO{BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz}, true
	}
}

func lighterMarketIndex(channel string) int {
	for i := len(channel) - 1; i >= 0; i-- {
		if channel[i] == ':' || channel[i] == '/' {
			n, _ := strconv.Atoi(channel[i+1:])
			return n
		}
	}
	return -1
}

// LighterSubscriptions subscribes to every configured market's
// order_book channel.
func LighterSubscriptions(symbols map[string]string) []any {
	out := make([]any, 0, len(symbols))
	for _, idxStr := range symbols {
		out = append(out, map[string]any{
			"type":    "subscribe",
			"channel": "order_book/" + idxStr,
		})
	}
	return out
}

// EdgeXDecoder parses EdgeX's depth.<symbol>.<level> quote
// events, keyed by contract id.
func EdgeXDecoder(symbols map[string]string) Decoder {
	bySym := reverseSymbolMap(symbols)

	type obLevel struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	type depthData struct {
		ContractID string    `json:"contractId"`
		Bids       []obLevel `json:"bids"`
		Asks       []obLevel `json:"asks"`
	}
	type contentNode struct {
		Data []depthData `json:"data"`
	}
	type event struct {
		Type    string      `json:"type"`
		Channel string      `json:"channel"`
		Content contentNode `json:"content"`
	}

	return func(raw []byte) (string, uint64, BBO, bool) {
		var ev event
		if json.Unmarshal(raw, &ev) != nil || ev.Type != "quote-event" || len(ev.Content.Data) == 0 {
			return "", 0, BBO{}, false
		}
		depth := ev.Content.Data[0]
		if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
			return "", 0, BBO{}, false
		}
		local, ok := bySym[depth.ContractID]
		if !ok {
			return "", 0, BBO{}, false
		}
		bidPx, _ := strconv.ParseFloat(depth.Bids[0].Price, 64)
		bidSz, _ := strconv.ParseFloat(depth.Bids[0].Size, 64)
		askPx, _ := strconv.ParseFloat(depth.Asks[0].Price, 64)
		askSz, _ := strconv.ParseFloat(depth.Asks[0].Size, 64)
		return local, uint64(time.Now().UnixNano()), BBO{BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz}, true
	}
}

// EdgeXSubscriptions subscribes to depth-15 for every configured
// contract id.
func EdgeXSubscriptions(symbols map[string]string) []any {
	out := make([]any, 0, len(symbols))
	for _, contractID := range symbols {
		out = append(out, map[string]any{
			"type":    "subscribe",
			"channel": "depth." + contractID + ".15",
		})
	}
	return out
}

// ZeroOneDecoder parses 01's orderbook snapshot/update
// events, where each level is a [price, size] string pair.
func ZeroOneDecoder(symbols map[string]string) Decoder {
	bySym := reverseSymbolMap(symbols)

	type data struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	type event struct {
		Topic string `json:"topic"`
		Type  string `json:"type"`
		Market string `json:"market"`
		Data  data   `json:"data"`
	}

	return func(raw []byte) (string, uint64, BBO, bool) {
		var ev event
		if json.Unmarshal(raw, &ev) != nil {
			return "", 0, BBO{}, false
		}
		if ev.Topic != "orderbook" || (ev.Type != "snapshot" && ev.Type != "update") {
			return "", 0, BBO{}, false
		}
		if len(ev.Data.Bids) == 0 || len(ev.Data.Asks) == 0 {
			return "", 0, BBO{}, false
		}
		local, ok := bySym[ev.Market]
		if !ok {
			return "", 0, BBO{}, false
		}
		bidPx, err := strconv.ParseFloat(ev.Data.Bids[0][0], 64)
		if err != nil {
			return "", 0, BBO{}, false
		}
		bidSz, err := strconv.ParseFloat(ev.Data.Bids[0][1], 64)
		if err != nil {
			return "", 0, BBO{}, false
		}
		askPx, err := strconv.ParseFloat(ev.Data.Asks[0][0], 64)
		if err != nil {
			return "", 0, BBO{}, false
		}
		askSz, err := strconv.ParseFloat(ev.Data.Asks[0][1], 64)
		if err != nil {
			return "", 0, BBO{}, false
		}
		return local, uint64(time.Now().UnixNano()), BBO{BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz}, true
	}
}

// ZeroOneSubscriptions subscribes to the orderbook topic for every
// configured market.
func ZeroOneSubscriptions(symbols map[string]string) []any {
	out := make([]any, 0, len(symbols))
	for _, market := range symbols {
		out = append(out, map[string]any{
			"type":   "subscribe",
			"topic":  "orderbook",
			"market": market,
		})
	}
	return out
}

// BackpackDecoder parses Backpack's depth event, Binance-
// shaped (`e`/`s`/`T`/`b`/`a`).
func BackpackDecoder(symbols map[string]string) Decoder {
	bySym := reverseSymbolMap(symbols)

	type depth struct {
		EventType string     `json:"e"`
		Symbol    string     `json:"s"`
		Timestamp int64      `json:"T"`
		Bids      [][]string `json:"b"`
		Asks      [][]string `json:"a"`
	}

	return func(raw []byte) (string, uint64, BBO, bool) {
		var d depth
		if json.Unmarshal(raw, &d) != nil || d.EventType != "depth" {
			return "", 0, BBO{}, false
		}
		local, ok := bySym[d.Symbol]
		if !ok || len(d.Bids) == 0 || len(d.Asks) == 0 {
			return "", 0, BBO{}, false
		}
		bidPx, _ := strconv.ParseFloat(d.Bids[0][0], 64)
		bidSz, _ := strconv.ParseFloat(d.Bids[0][1], 64)
		askPx, _ := strconv.ParseFloat(d.Asks[0][0], 64)
		askSz, _ := strconv.ParseFloat(d.Asks[0][1], 64)
		tsNs := uint64(d.Timestamp) * 1_000_000
		if tsNs == 0 {
			tsNs = uint64(time.Now().UnixNano())
		}
		return local, tsNs, BBO{BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz}, true
	}
}

// BackpackSubscriptions subscribes to the depth stream for every
// configured symbol.
func BackpackSubscriptions(symbols map[string]string) []any {
	channels := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		channels = append(channels, "depth."+sym)
	}
	return []any{map[string]any{
		"method": "SUBSCRIBE",
		"params": channels,
		"id":     1,
	}}
}
