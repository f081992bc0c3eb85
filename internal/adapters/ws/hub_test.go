package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ranklobby/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func dial(srv *httptest.Server, topic string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topic=" + topic
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	return c, err
}

func waitClients(h *Hub, n int) {
	for i := 0; i < 100 && h.Clients() < n; i++ {
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub(t *testing.T) {
	Convey("Given a hub with two subscribers", t, func() {
		h := NewHub()
		srv := httptest.NewServer(h)
		defer srv.Close()
		defer h.Close()

		tiers, err := dial(srv, TopicTiers)
		So(err, ShouldBeNil)
		defer tiers.Close()
		all, err := dial(srv, "")
		So(err, ShouldBeNil)
		defer all.Close()
		waitClients(h, 2)
		So(h.Clients(), ShouldEqual, 2)

		Convey("Messages reach only matching subscribers", func() {
			h.Publish(TopicLobbies, "snapshot", map[string]int{"occupancy": 3})
			h.Publish(TopicTiers, "tier_change", map[string]string{"new_tier": "Gold"})

			var m Message
			_ = tiers.SetReadDeadline(time.Now().Add(2 * time.Second))
			So(tiers.ReadJSON(&m), ShouldBeNil)
			So(m.Topic, ShouldEqual, TopicTiers)
			So(m.Type, ShouldEqual, "tier_change")

			_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
			So(all.ReadJSON(&m), ShouldBeNil)
			So(m.Topic, ShouldEqual, TopicLobbies)
			So(all.ReadJSON(&m), ShouldBeNil)
			So(m.Topic, ShouldEqual, TopicTiers)
		})

		Convey("Session wildcard subscriptions match any session", func() {
			c := &client{topics: map[string]struct{}{TopicSessionPrefix + "*": {}}}
			So(c.wants(TopicSessionPrefix+"abc"), ShouldBeTrue)
			So(c.wants(TopicTiers), ShouldBeFalse)
		})

		Convey("Closing the hub disconnects subscribers", func() {
			h.Close()
			So(h.Clients(), ShouldEqual, 0)
			_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := all.ReadMessage()
			So(err, ShouldNotBeNil)
		})
	})
}
