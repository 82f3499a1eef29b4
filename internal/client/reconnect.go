package client

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dkeye/voicestream/internal/domain"
)

// handleChannelClosed runs when the relay or the network drops the channel.
func (c *Client) handleChannelClosed(ch *channel, err error) {
	c.mu.Lock()
	defer c.unlock()
	if ch != c.channel {
		return
	}
	c.channel = nil
	if c.status.Active() {
		c.logger.Warn().Err(err).Int("retries", c.retries).Msg("channel lost while active")
		c.scheduleReconnectLocked()
		return
	}
	c.setStatusLocked(domain.StatusDisconnected, "")
}

func (c *Client) scheduleReconnectLocked() {
	if c.retries >= c.maxRetries {
		c.logger.Error().Int("retries", c.retries).Msg("giving up reconnecting")
		c.timers.cancel(timerReconnect)
		c.setStatusLocked(domain.StatusError, detailMaxRetries)
		return
	}
	c.retries++
	delay := c.backoff.Delay(c.retries)
	secs := int(math.Round(delay.Seconds()))
	c.setStatusLocked(domain.StatusConnecting, fmt.Sprintf("Reconnecting in %ds...", secs))
	epoch := c.epoch
	c.timers.after(timerReconnect, delay, func() { c.reconnect(epoch) })
}

func (c *Client) reconnect(epoch uint64) {
	err := c.connect(context.Background(), epoch)

	c.mu.Lock()
	defer c.unlock()
	if c.epoch != epoch {
		return
	}
	if err != nil {
		if errors.Is(err, ErrInvalidServerURL) {
			return
		}
		c.logger.Warn().Err(err).Int("attempt", c.retries).Msg("reconnect failed")
		c.scheduleReconnectLocked()
		return
	}
	c.resumeLocked()
}

// resumeLocked replays the last intent on a fresh peer session.
func (c *Client) resumeLocked() {
	var err error
	switch c.mode {
	case domain.ModeSend:
		if c.local == nil {
			// StartSending is still acquiring media and will negotiate itself.
			return
		}
		err = c.negotiateSendLocked()
	case domain.ModeReceive:
		err = c.negotiateReceiveLocked()
	default:
		c.setStatusLocked(domain.StatusConnected, "")
	}
	if err != nil {
		_ = c.failLocked(err)
	}
}

func (c *Client) negotiatedLocked() {
	if c.resetPolicy == ResetOnNegotiated {
		c.retries = 0
	}
}
