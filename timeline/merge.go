package timeline

import "chatcore/db/entities"

// Merge interleaves two time-sorted lists into one. On equal timestamps the
// message comes first.
func Merge(messages []*entities.Message, events []*entities.SystemEvent) []entities.ChatItem {
	result := make([]entities.ChatItem, 0, len(messages)+len(events))
	i, j := 0, 0
	for i < len(messages) && j < len(events) {
		if events[j].At.Before(messages[i].SentAt) {
			result = append(result, entities.ChatItem{Event: events[j]})
			j++
		} else {
			result = append(result, entities.ChatItem{Message: messages[i]})
			i++
		}
	}
	for ; i < len(messages); i++ {
		result = append(result, entities.ChatItem{Message: messages[i]})
	}
	for ; j < len(events); j++ {
		result = append(result, entities.ChatItem{Event: events[j]})
	}
	return result
}
